package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/auth"
	"github.com/charlesng35/smallworld/internal/database"
	"github.com/charlesng35/smallworld/internal/models"
	"github.com/charlesng35/smallworld/pkg/crypto"
	apperrors "github.com/charlesng35/smallworld/pkg/errors"
	"github.com/charlesng35/smallworld/pkg/metrics"
)

const minPasswordLength = 8

// ErrAccountConflict is returned when the email or world handle is already registered.
var ErrAccountConflict = apperrors.NewConflict("email or world handle already registered")

// RegisterInput captures the attributes of a new world owner and their world.
type RegisterInput struct {
	Name      string
	Email     string
	Password  string
	Handle    string
	WorldName string
}

// UpdateWorldInput captures world settings. Nil fields are left untouched.
type UpdateWorldInput struct {
	Name               *string
	Theme              *string
	AllowFriendSharing *bool
	HideNeko           *bool
	HideStats          *bool
}

// AuthResult is returned after a successful signup or login.
type AuthResult struct {
	User        *models.User  `json:"user"`
	World       *models.World `json:"world"`
	AccessToken string        `json:"access_token"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// OwnerService handles owner accounts and their single world.
type OwnerService struct {
	db  *gorm.DB
	jwt *auth.JWTService
}

// NewOwnerService constructs an OwnerService.
func NewOwnerService(db *gorm.DB, jwt *auth.JWTService) (*OwnerService, error) {
	if db == nil {
		return nil, errors.New("owner service: db is required")
	}
	if jwt == nil {
		return nil, errors.New("owner service: jwt service is required")
	}
	return &OwnerService{db: db, jwt: jwt}, nil
}

// Register creates the owner account and its world together.
func (s *OwnerService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	ctx = ensureContext(ctx)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	handle := strings.ToLower(strings.TrimSpace(input.Handle))
	name := strings.TrimSpace(input.Name)
	if email == "" || handle == "" || name == "" {
		return nil, apperrors.NewBadRequest("name, email and handle are required")
	}
	if len(input.Password) < minPasswordLength {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("owner service: hash password: %w", err)
	}

	worldName := strings.TrimSpace(input.WorldName)
	if worldName == "" {
		worldName = name
	}

	user := &models.User{Name: name, Email: email, PasswordHash: hash}
	world := &models.World{Handle: handle, Name: worldName}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		world.OwnerID = user.ID
		return tx.Create(world).Error
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrAccountConflict
		}
		return nil, fmt.Errorf("owner service: register: %w", err)
	}

	return s.issue(user, world)
}

// Login verifies the owner's credentials and issues an access token.
func (s *OwnerService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	ctx = ensureContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}

	var user models.User
	err := s.db.WithContext(ctx).Preload("World").Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("owner service: load user: %w", err)
	}
	if !crypto.VerifyPassword(user.PasswordHash, password) || user.World == nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	world := user.World
	user.World = nil
	return s.issue(&user, world)
}

// World loads the world owned by userID.
func (s *OwnerService) World(ctx context.Context, userID string) (*models.World, error) {
	ctx = ensureContext(ctx)
	var world models.World
	err := s.db.WithContext(ctx).Where("owner_id = ?", userID).Take(&world).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("owner service: load world: %w", err)
	}
	return &world, nil
}

// UpdateWorld applies settings to the owner's world.
func (s *OwnerService) UpdateWorld(ctx context.Context, userID string, input UpdateWorldInput) (*models.World, error) {
	world, err := s.World(ctx, userID)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		world.Name = strings.TrimSpace(*input.Name)
	}
	if input.Theme != nil {
		if theme := strings.TrimSpace(*input.Theme); theme != "" {
			world.Theme = theme
		}
	}
	if input.AllowFriendSharing != nil {
		world.AllowFriendSharing = *input.AllowFriendSharing
	}
	if input.HideNeko != nil {
		world.HideNeko = *input.HideNeko
	}
	if input.HideStats != nil {
		world.HideStats = *input.HideStats
	}
	if err := s.db.WithContext(ensureContext(ctx)).Save(world).Error; err != nil {
		return nil, fmt.Errorf("owner service: save world: %w", err)
	}
	return world, nil
}

func (s *OwnerService) issue(user *models.User, world *models.World) (*AuthResult, error) {
	token, err := s.jwt.GenerateAccessToken(auth.AccessTokenInput{UserID: user.ID, WorldID: world.ID})
	if err != nil {
		return nil, fmt.Errorf("owner service: issue token: %w", err)
	}
	return &AuthResult{
		User:        user,
		World:       world,
		AccessToken: token,
		ExpiresAt:   utcNow().Add(s.jwt.TTL()),
	}, nil
}
