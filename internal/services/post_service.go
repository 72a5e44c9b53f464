package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/audience"
	"github.com/charlesng35/smallworld/internal/models"
	apperrors "github.com/charlesng35/smallworld/pkg/errors"
	"github.com/charlesng35/smallworld/pkg/logger"
)

// Dispatcher creates notifications for a set of recipients.
type Dispatcher interface {
	Dispatch(ctx context.Context, noticeable models.Noticeable, recipients []models.Identity) ([]models.Notification, error)
}

// RecipientResolver narrows an owner's recipient selection to notifiable friends.
type RecipientResolver interface {
	NotifiableRecipients(ctx context.Context, post *models.Post, explicitFriendIDs []string) ([]string, error)
}

// CreatePostInput captures a new post and the owner's recipient selection.
type CreatePostInput struct {
	Type          models.PostType
	Visibility    models.Visibility
	Body          string
	PinnedUntil   *time.Time
	QuotedPostID  *string
	HiddenFromIDs []string
	VisibleToIDs  []string

	NotifyAll       bool
	NotifyFriendIDs []string
}

// UpdatePostInput captures owner edits. Nil fields are left untouched; Unpin clears pinned_until.
type UpdatePostInput struct {
	Type          *models.PostType
	Visibility    *models.Visibility
	Body          *string
	PinnedUntil   *time.Time
	Unpin         bool
	HiddenFromIDs *[]string
	VisibleToIDs  *[]string
}

// NotifyInput selects recipients for a post. NotifyAll selects every friend of the world.
type NotifyInput struct {
	NotifyAll bool
	FriendIDs []string
}

// PublishedPost is the result of creating a post.
type PublishedPost struct {
	Post     *models.Post `json:"post"`
	Notified []string     `json:"notified_friend_ids"`
}

// PostService manages an owner's posts.
type PostService struct {
	db         *gorm.DB
	recipients RecipientResolver
	dispatcher Dispatcher
	log        *zap.Logger
}

// NewPostService constructs a PostService.
func NewPostService(db *gorm.DB, recipients RecipientResolver, dispatcher Dispatcher) (*PostService, error) {
	if db == nil {
		return nil, errors.New("post service: db is required")
	}
	if recipients == nil || dispatcher == nil {
		return nil, errors.New("post service: recipient resolver and dispatcher are required")
	}
	return &PostService{
		db:         db,
		recipients: recipients,
		dispatcher: dispatcher,
		log:        logger.WithModule("posts"),
	}, nil
}

// Create publishes a post in the owner's world and notifies the selected friends. A failed
// dispatch does not undo the post; Notify can be repeated safely.
func (s *PostService) Create(ctx context.Context, owner audience.Viewer, input CreatePostInput) (*PublishedPost, error) {
	ctx = ensureContext(ctx)
	if owner.Kind != audience.ViewerOwner || owner.WorldID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	if !input.Type.Valid() {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown post type %q", input.Type))
	}
	if !input.Visibility.Valid() {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown visibility %q", input.Visibility))
	}

	worldID := owner.WorldID
	post := &models.Post{
		WorldID:       &worldID,
		AuthorID:      owner.UserID,
		Type:          input.Type,
		Visibility:    input.Visibility,
		Body:          strings.TrimSpace(input.Body),
		PinnedUntil:   input.PinnedUntil,
		QuotedPostID:  trimmedOrNil(input.QuotedPostID),
		HiddenFromIDs: input.HiddenFromIDs,
		VisibleToIDs:  input.VisibleToIDs,
	}

	friendIDs, err := s.worldFriendIDs(ctx, worldID)
	if err != nil {
		return nil, err
	}
	s.restrictOverrides(post, friendIDs)
	audience.Normalize(post)

	if post.QuotedPostID != nil {
		if err := s.checkQuoted(ctx, owner, *post.QuotedPostID); err != nil {
			return nil, err
		}
	}

	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return nil, fmt.Errorf("post service: create post: %w", err)
	}

	selection := input.NotifyFriendIDs
	if input.NotifyAll {
		selection = friendIDs
	}
	notified, err := s.notify(ctx, post, selection)
	if err != nil {
		s.log.Warn("post created but dispatch failed", zap.String("post_id", post.ID), zap.Error(err))
		notified = []string{}
	}
	return &PublishedPost{Post: post, Notified: notified}, nil
}

// Notify (re)dispatches notifications for an existing post. Already-notified friends are no-ops.
func (s *PostService) Notify(ctx context.Context, owner audience.Viewer, postID string, input NotifyInput) ([]string, error) {
	post, err := s.ownedPost(ctx, owner, postID)
	if err != nil {
		return nil, err
	}
	selection := input.FriendIDs
	if input.NotifyAll {
		if selection, err = s.worldFriendIDs(ctx, owner.WorldID); err != nil {
			return nil, err
		}
	}
	return s.notify(ctx, post, selection)
}

func (s *PostService) notify(ctx context.Context, post *models.Post, selection []string) ([]string, error) {
	ids, err := s.recipients.NotifiableRecipients(ctx, post, selection)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []string{}, nil
	}
	recipients := make([]models.Identity, 0, len(ids))
	for _, id := range ids {
		recipients = append(recipients, models.FriendIdentity(id))
	}
	if _, err := s.dispatcher.Dispatch(ctx, models.PostNoticeable(post.ID), recipients); err != nil {
		return nil, err
	}
	return ids, nil
}

// Get loads a post for viewer. Posts the viewer may not see are reported as not found.
func (s *PostService) Get(ctx context.Context, viewer audience.Viewer, postID string) (*models.Post, error) {
	post, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !audience.Decide(post, viewer) {
		return nil, apperrors.ErrNotFound
	}
	return post, nil
}

// Update applies owner edits. Override sets are re-validated against the world's friends.
func (s *PostService) Update(ctx context.Context, owner audience.Viewer, postID string, input UpdatePostInput) (*models.Post, error) {
	post, err := s.ownedPost(ctx, owner, postID)
	if err != nil {
		return nil, err
	}

	if input.Type != nil {
		if !input.Type.Valid() {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown post type %q", *input.Type))
		}
		post.Type = *input.Type
	}
	if input.Visibility != nil {
		if !input.Visibility.Valid() {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown visibility %q", *input.Visibility))
		}
		post.Visibility = *input.Visibility
	}
	if input.Body != nil {
		post.Body = strings.TrimSpace(*input.Body)
	}
	switch {
	case input.Unpin:
		post.PinnedUntil = nil
	case input.PinnedUntil != nil:
		post.PinnedUntil = input.PinnedUntil
	}
	if input.HiddenFromIDs != nil {
		post.HiddenFromIDs = *input.HiddenFromIDs
	}
	if input.VisibleToIDs != nil {
		post.VisibleToIDs = *input.VisibleToIDs
	}

	friendIDs, err := s.worldFriendIDs(ctx, owner.WorldID)
	if err != nil {
		return nil, err
	}
	s.restrictOverrides(post, friendIDs)
	audience.Normalize(post)

	if err := s.db.WithContext(ensureContext(ctx)).Save(post).Error; err != nil {
		return nil, fmt.Errorf("post service: save post: %w", err)
	}
	return post, nil
}

// Delete removes a post with its notifications, text blasts and engagement.
func (s *PostService) Delete(ctx context.Context, owner audience.Viewer, postID string) error {
	post, err := s.ownedPost(ctx, owner, postID)
	if err != nil {
		return err
	}
	ctx = ensureContext(ctx)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var replyIDs []string
		if err := tx.Model(&models.Reply{}).Where("post_id = ?", post.ID).Pluck("id", &replyIDs).Error; err != nil {
			return fmt.Errorf("post service: load replies: %w", err)
		}
		if len(replyIDs) > 0 {
			if err := tx.Where("noticeable_type = ? AND noticeable_id IN ?", models.NoticeableReply, replyIDs).
				Delete(&models.Notification{}).Error; err != nil {
				return fmt.Errorf("post service: delete reply notifications: %w", err)
			}
		}
		if err := tx.Where("noticeable_type = ? AND noticeable_id = ?", models.NoticeablePost, post.ID).
			Delete(&models.Notification{}).Error; err != nil {
			return fmt.Errorf("post service: delete notifications: %w", err)
		}
		for _, model := range []any{&models.TextBlast{}, &models.Reaction{}, &models.PostView{}, &models.Reply{}} {
			if err := tx.Where("post_id = ?", post.ID).Delete(model).Error; err != nil {
				return fmt.Errorf("post service: delete dependents: %w", err)
			}
		}
		if err := tx.Model(&models.Post{}).
			Where("quoted_post_id = ?", post.ID).
			UpdateColumn("quoted_post_id", nil).Error; err != nil {
			return fmt.Errorf("post service: clear quotes: %w", err)
		}
		if err := tx.Delete(post).Error; err != nil {
			return fmt.Errorf("post service: delete post: %w", err)
		}
		return nil
	})
}

func (s *PostService) load(ctx context.Context, postID string) (*models.Post, error) {
	ctx = ensureContext(ctx)
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return nil, apperrors.ErrNotFound
	}
	var post models.Post
	err := s.db.WithContext(ctx).Where("id = ?", postID).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("post service: load post: %w", err)
	}
	return &post, nil
}

func (s *PostService) ownedPost(ctx context.Context, owner audience.Viewer, postID string) (*models.Post, error) {
	if owner.Kind != audience.ViewerOwner || owner.WorldID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	post, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !post.BelongsToWorld(owner.WorldID) {
		return nil, apperrors.ErrNotFound
	}
	return post, nil
}

func (s *PostService) checkQuoted(ctx context.Context, owner audience.Viewer, quotedID string) error {
	quoted, err := s.load(ctx, quotedID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return apperrors.NewBadRequest("quoted post not found")
	}
	if err != nil {
		return err
	}
	if !audience.Decide(quoted, owner) {
		return apperrors.NewBadRequest("quoted post not found")
	}
	return nil
}

func (s *PostService) worldFriendIDs(ctx context.Context, worldID string) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ensureContext(ctx)).
		Model(&models.Friend{}).
		Where("world_id = ?", worldID).
		Order("created_at ASC").Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("post service: load friend ids: %w", err)
	}
	return ids, nil
}

// restrictOverrides drops override ids that are not friends of the post's world.
func (s *PostService) restrictOverrides(post *models.Post, friendIDs []string) {
	known := make(map[string]struct{}, len(friendIDs))
	for _, id := range friendIDs {
		known[id] = struct{}{}
	}
	filter := func(field string, ids []string) datatypes.JSONSlice[string] {
		kept := make(datatypes.JSONSlice[string], 0, len(ids))
		dropped := 0
		for _, id := range audience.NormalizeIDs(ids) {
			if _, ok := known[id]; ok {
				kept = append(kept, id)
				continue
			}
			dropped++
		}
		if dropped > 0 {
			s.log.Warn("dropping unknown friend ids from override",
				zap.String("post_id", post.ID),
				zap.String("field", field),
				zap.Int("count", dropped),
			)
		}
		return kept
	}
	post.HiddenFromIDs = filter("hidden_from_ids", post.HiddenFromIDs)
	post.VisibleToIDs = filter("visible_to_ids", post.VisibleToIDs)
}
