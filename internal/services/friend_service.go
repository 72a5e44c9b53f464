package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/database"
	"github.com/charlesng35/smallworld/internal/models"
	"github.com/charlesng35/smallworld/pkg/crypto"
	apperrors "github.com/charlesng35/smallworld/pkg/errors"
)

const accessTokenBytes = 32

// ErrFriendConflict is returned when a friend's name or phone number is already taken in the world.
var ErrFriendConflict = apperrors.NewConflict("a friend with this name or phone number already exists")

// CreateFriendInput captures the attributes an owner supplies when inviting a friend.
type CreateFriendInput struct {
	Name                string
	Emoji               string
	PhoneNumber         *string
	ChosenFamily        bool
	TimeZoneName        string
	SubscribedPostTypes []models.PostType
	MessagingPlatform   models.MessagingPlatform
	SMSFallback         bool
}

// UpdateFriendInput captures owner-side edits. Nil fields are left untouched.
type UpdateFriendInput struct {
	Name         *string
	Emoji        *string
	PhoneNumber  *string
	ChosenFamily *bool
}

// FriendPreferencesInput captures the settings a friend controls. Nil fields are left untouched.
type FriendPreferencesInput struct {
	SubscribedPostTypes *[]models.PostType
	MessagingPlatform   *models.MessagingPlatform
	SMSFallback         *bool
	TimeZoneName        *string
}

// CreatedFriend pairs a new friend with the capability token handed out exactly once.
type CreatedFriend struct {
	Friend      *models.Friend `json:"friend"`
	AccessToken string         `json:"access_token"`
}

// FriendService manages a world's circle of friends.
type FriendService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewFriendService constructs a FriendService.
func NewFriendService(db *gorm.DB) (*FriendService, error) {
	if db == nil {
		return nil, errors.New("friend service: db is required")
	}
	return &FriendService{db: db, now: utcNow}, nil
}

// Create adds a friend to the world and mints the friend's access token.
func (s *FriendService) Create(ctx context.Context, worldID string, input CreateFriendInput) (*CreatedFriend, error) {
	ctx = ensureContext(ctx)
	worldID = strings.TrimSpace(worldID)
	if worldID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("friend name is required")
	}
	types, err := validatePostTypes(input.SubscribedPostTypes)
	if err != nil {
		return nil, err
	}
	platform, err := validatePlatform(input.MessagingPlatform)
	if err != nil {
		return nil, err
	}

	token, err := crypto.GenerateToken(accessTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("friend service: generate access token: %w", err)
	}

	friend := &models.Friend{
		WorldID:             worldID,
		Name:                name,
		Emoji:               strings.TrimSpace(input.Emoji),
		PhoneNumber:         trimmedOrNil(input.PhoneNumber),
		AccessToken:         token,
		ChosenFamily:        input.ChosenFamily,
		TimeZoneName:        strings.TrimSpace(input.TimeZoneName),
		SubscribedPostTypes: types,
		MessagingPlatform:   platform,
		SMSFallback:         input.SMSFallback,
	}
	if err := s.db.WithContext(ctx).Create(friend).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrFriendConflict
		}
		return nil, fmt.Errorf("friend service: create friend: %w", err)
	}
	return &CreatedFriend{Friend: friend, AccessToken: token}, nil
}

// List returns the world's friends ordered by name.
func (s *FriendService) List(ctx context.Context, worldID string) ([]models.Friend, error) {
	ctx = ensureContext(ctx)
	var friends []models.Friend
	if err := s.db.WithContext(ctx).
		Where("world_id = ?", worldID).
		Order("name ASC").Order("id ASC").
		Find(&friends).Error; err != nil {
		return nil, fmt.Errorf("friend service: list friends: %w", err)
	}
	return friends, nil
}

// Get loads a friend of the world.
func (s *FriendService) Get(ctx context.Context, worldID, friendID string) (*models.Friend, error) {
	ctx = ensureContext(ctx)
	var friend models.Friend
	err := s.db.WithContext(ctx).
		Where("id = ? AND world_id = ?", strings.TrimSpace(friendID), worldID).
		Take(&friend).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("friend service: load friend: %w", err)
	}
	return &friend, nil
}

// Update applies owner-side edits to a friend.
func (s *FriendService) Update(ctx context.Context, worldID, friendID string, input UpdateFriendInput) (*models.Friend, error) {
	friend, err := s.Get(ctx, worldID, friendID)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperrors.NewBadRequest("friend name is required")
		}
		friend.Name = name
	}
	if input.Emoji != nil {
		friend.Emoji = strings.TrimSpace(*input.Emoji)
	}
	if input.PhoneNumber != nil {
		friend.PhoneNumber = trimmedOrNil(input.PhoneNumber)
	}
	if input.ChosenFamily != nil {
		friend.ChosenFamily = *input.ChosenFamily
	}
	return friend, s.save(ctx, friend)
}

// Pause excludes the friend from audience resolution until Unpause.
func (s *FriendService) Pause(ctx context.Context, worldID, friendID string) (*models.Friend, error) {
	friend, err := s.Get(ctx, worldID, friendID)
	if err != nil {
		return nil, err
	}
	if friend.PausedSince != nil {
		return friend, nil
	}
	now := s.now()
	friend.PausedSince = &now
	return friend, s.save(ctx, friend)
}

// Unpause restores a paused friend.
func (s *FriendService) Unpause(ctx context.Context, worldID, friendID string) (*models.Friend, error) {
	friend, err := s.Get(ctx, worldID, friendID)
	if err != nil {
		return nil, err
	}
	if friend.PausedSince == nil {
		return friend, nil
	}
	friend.PausedSince = nil
	return friend, s.save(ctx, friend)
}

// Remove hard-deletes a friend together with their devices, notifications, unsent text blasts,
// reactions and views. Replies stay with the post.
func (s *FriendService) Remove(ctx context.Context, worldID, friendID string) error {
	friend, err := s.Get(ctx, worldID, friendID)
	if err != nil {
		return err
	}
	ctx = ensureContext(ctx)
	kind := string(models.IdentityFriend)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_type = ? AND owner_id = ?", kind, friend.ID).
			Delete(&models.PushRegistration{}).Error; err != nil {
			return fmt.Errorf("friend service: delete registrations: %w", err)
		}
		if err := tx.Where("recipient_type = ? AND recipient_id = ?", kind, friend.ID).
			Delete(&models.Notification{}).Error; err != nil {
			return fmt.Errorf("friend service: delete notifications: %w", err)
		}
		if err := tx.Where("friend_id = ? AND sent_at IS NULL", friend.ID).
			Delete(&models.TextBlast{}).Error; err != nil {
			return fmt.Errorf("friend service: delete text blasts: %w", err)
		}
		if err := tx.Where("reactor_type = ? AND reactor_id = ?", kind, friend.ID).
			Delete(&models.Reaction{}).Error; err != nil {
			return fmt.Errorf("friend service: delete reactions: %w", err)
		}
		if err := tx.Where("viewer_type = ? AND viewer_id = ?", kind, friend.ID).
			Delete(&models.PostView{}).Error; err != nil {
			return fmt.Errorf("friend service: delete views: %w", err)
		}
		if err := tx.Delete(friend).Error; err != nil {
			return fmt.Errorf("friend service: delete friend: %w", err)
		}
		return nil
	})
}

// Authenticate resolves a capability token to its friend.
func (s *FriendService) Authenticate(ctx context.Context, token string) (*models.Friend, error) {
	ctx = ensureContext(ctx)
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.ErrUnauthorized
	}

	var friend models.Friend
	err := s.db.WithContext(ctx).Where("access_token = ?", token).Take(&friend).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("friend service: authenticate: %w", err)
	}
	if !crypto.EqualTokens(friend.AccessToken, token) {
		return nil, apperrors.ErrUnauthorized
	}
	return &friend, nil
}

// UpdatePreferences applies the settings a friend manages for themselves.
func (s *FriendService) UpdatePreferences(ctx context.Context, friendID string, input FriendPreferencesInput) (*models.Friend, error) {
	ctx = ensureContext(ctx)
	var friend models.Friend
	err := s.db.WithContext(ctx).Where("id = ?", friendID).Take(&friend).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("friend service: load friend: %w", err)
	}

	if input.SubscribedPostTypes != nil {
		types, err := validatePostTypes(*input.SubscribedPostTypes)
		if err != nil {
			return nil, err
		}
		if types == nil {
			types = datatypes.JSONSlice[models.PostType]{}
		}
		friend.SubscribedPostTypes = types
	}
	if input.MessagingPlatform != nil {
		platform, err := validatePlatform(*input.MessagingPlatform)
		if err != nil {
			return nil, err
		}
		friend.MessagingPlatform = platform
	}
	if input.SMSFallback != nil {
		friend.SMSFallback = *input.SMSFallback
	}
	if input.TimeZoneName != nil {
		friend.TimeZoneName = strings.TrimSpace(*input.TimeZoneName)
	}
	return &friend, s.save(ctx, &friend)
}

func (s *FriendService) save(ctx context.Context, friend *models.Friend) error {
	if err := s.db.WithContext(ensureContext(ctx)).Save(friend).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return ErrFriendConflict
		}
		return fmt.Errorf("friend service: save friend: %w", err)
	}
	return nil
}

// validatePostTypes returns nil for a nil input so the model default (every type) applies.
func validatePostTypes(types []models.PostType) (datatypes.JSONSlice[models.PostType], error) {
	if types == nil {
		return nil, nil
	}
	out := make(datatypes.JSONSlice[models.PostType], 0, len(types))
	seen := make(map[models.PostType]struct{}, len(types))
	for _, t := range types {
		if !t.Valid() {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown post type %q", t))
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

func validatePlatform(platform models.MessagingPlatform) (models.MessagingPlatform, error) {
	switch platform {
	case "":
		return models.MessagingPush, nil
	case models.MessagingPush, models.MessagingSMS:
		return platform, nil
	default:
		return "", apperrors.NewBadRequest(fmt.Sprintf("unknown messaging platform %q", platform))
	}
}
