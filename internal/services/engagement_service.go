package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/audience"
	"github.com/charlesng35/smallworld/internal/database"
	"github.com/charlesng35/smallworld/internal/models"
	apperrors "github.com/charlesng35/smallworld/pkg/errors"
	"github.com/charlesng35/smallworld/pkg/logger"
)

const maxEmojiRunes = 8

// EngagementService records views, reactions and replies. Every write is gated by the viewer's
// right to see the post.
type EngagementService struct {
	db         *gorm.DB
	dispatcher Dispatcher
	log        *zap.Logger
}

// NewEngagementService constructs an EngagementService. dispatcher may be nil, in which case
// authors are not notified about replies.
func NewEngagementService(db *gorm.DB, dispatcher Dispatcher) (*EngagementService, error) {
	if db == nil {
		return nil, errors.New("engagement service: db is required")
	}
	return &EngagementService{db: db, dispatcher: dispatcher, log: logger.WithModule("engagement")}, nil
}

// MarkSeen records that viewer has seen the post. Repeated calls are no-ops.
func (s *EngagementService) MarkSeen(ctx context.Context, viewer audience.Viewer, postID string) error {
	ctx = ensureContext(ctx)
	post, identity, err := s.visiblePost(ctx, viewer, postID)
	if err != nil {
		return err
	}

	view := models.PostView{PostID: post.ID, ViewerType: identity.Kind, ViewerID: identity.ID}
	return s.createOnce(ctx, &view, func(db *gorm.DB) *gorm.DB {
		return db.Where("post_id = ? AND viewer_type = ? AND viewer_id = ?", post.ID, string(identity.Kind), identity.ID)
	})
}

// React adds an emoji reaction. The same emoji from the same reactor is stored once.
func (s *EngagementService) React(ctx context.Context, viewer audience.Viewer, postID, emoji string) (*models.Reaction, error) {
	ctx = ensureContext(ctx)
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiRunes {
		return nil, apperrors.NewBadRequest("emoji is required")
	}
	post, identity, err := s.visiblePost(ctx, viewer, postID)
	if err != nil {
		return nil, err
	}

	reaction := models.Reaction{PostID: post.ID, ReactorType: identity.Kind, ReactorID: identity.ID, Emoji: emoji}
	scope := func(db *gorm.DB) *gorm.DB {
		return db.Where("post_id = ? AND reactor_type = ? AND reactor_id = ? AND emoji = ?",
			post.ID, string(identity.Kind), identity.ID, emoji)
	}
	if err := s.createOnce(ctx, &reaction, scope); err != nil {
		return nil, err
	}
	var stored models.Reaction
	if err := scope(s.db.WithContext(ctx)).Take(&stored).Error; err != nil {
		return nil, fmt.Errorf("engagement service: reload reaction: %w", err)
	}
	return &stored, nil
}

// Unreact removes the viewer's emoji reaction, if present.
func (s *EngagementService) Unreact(ctx context.Context, viewer audience.Viewer, postID, emoji string) error {
	ctx = ensureContext(ctx)
	post, identity, err := s.visiblePost(ctx, viewer, postID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).
		Where("post_id = ? AND reactor_type = ? AND reactor_id = ? AND emoji = ?",
			post.ID, string(identity.Kind), identity.ID, strings.TrimSpace(emoji)).
		Delete(&models.Reaction{}).Error; err != nil {
		return fmt.Errorf("engagement service: delete reaction: %w", err)
	}
	return nil
}

// Reply stores a reply and notifies the post author when someone else wrote it.
func (s *EngagementService) Reply(ctx context.Context, viewer audience.Viewer, postID, body string) (*models.Reply, error) {
	ctx = ensureContext(ctx)
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewBadRequest("reply body is required")
	}
	post, identity, err := s.visiblePost(ctx, viewer, postID)
	if err != nil {
		return nil, err
	}

	reply := models.Reply{PostID: post.ID, AuthorType: identity.Kind, AuthorID: identity.ID, Body: body}
	if err := s.db.WithContext(ctx).Create(&reply).Error; err != nil {
		return nil, fmt.Errorf("engagement service: create reply: %w", err)
	}

	author := models.UserIdentity(post.AuthorID)
	if s.dispatcher != nil && author.Key() != identity.Key() {
		if _, err := s.dispatcher.Dispatch(ctx, models.ReplyNoticeable(reply.ID), []models.Identity{author}); err != nil {
			s.log.Warn("notify author about reply failed", zap.String("reply_id", reply.ID), zap.Error(err))
		}
	}
	return &reply, nil
}

func (s *EngagementService) visiblePost(ctx context.Context, viewer audience.Viewer, postID string) (*models.Post, models.Identity, error) {
	identity := viewer.Identity()
	if !identity.Valid() {
		return nil, models.Identity{}, apperrors.ErrUnauthorized
	}

	var post models.Post
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(postID)).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.Identity{}, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, models.Identity{}, fmt.Errorf("engagement service: load post: %w", err)
	}
	if !audience.Decide(&post, viewer) {
		return nil, models.Identity{}, apperrors.ErrNotFound
	}
	return &post, identity, nil
}

// createOnce inserts row unless scope already matches one. A lost insert race is treated as success.
func (s *EngagementService) createOnce(ctx context.Context, row any, scope func(*gorm.DB) *gorm.DB) error {
	db := s.db.WithContext(ctx)

	var count int64
	if err := scope(db.Model(row)).Count(&count).Error; err != nil {
		return fmt.Errorf("engagement service: check existing: %w", err)
	}
	if count > 0 {
		return nil
	}
	if err := db.Create(row).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("engagement service: create: %w", err)
	}
	return nil
}
