package audience

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/models"
	"github.com/charlesng35/smallworld/pkg/logger"
	"github.com/charlesng35/smallworld/pkg/metrics"
)

// CanView decides whether viewer may see post. It is a pure function of the post's stored
// fields and the viewer; the first matching rule wins.
func CanView(post *models.Post, viewer Viewer) bool {
	if post == nil {
		return false
	}

	if viewer.Kind == ViewerOwner && viewer.UserID != "" {
		if post.BelongsToWorld(viewer.WorldID) || post.AuthorID == viewer.UserID {
			return true
		}
	}

	friendID := viewer.FriendID()

	switch post.Visibility {
	case models.VisibilitySecret:
		return post.VisibleTo(friendID)
	case models.VisibilityPublic:
		return !post.HiddenFrom(friendID)
	case models.VisibilityFriends:
		return isActiveWorldFriend(post, viewer)
	case models.VisibilityChosenFamily:
		return isActiveWorldFriend(post, viewer) && viewer.Friend.ChosenFamily
	default:
		return false
	}
}

func isActiveWorldFriend(post *models.Post, viewer Viewer) bool {
	if viewer.Kind != ViewerFriend || viewer.Friend == nil {
		return false
	}
	friend := viewer.Friend
	if !post.BelongsToWorld(friend.WorldID) || friend.IsPaused() {
		return false
	}
	return !post.HiddenFrom(friend.ID)
}

// Decide is CanView plus a decision metric. Use it for single-post reads; feed assembly calls
// CanView directly.
func Decide(post *models.Post, viewer Viewer) bool {
	allowed := CanView(post, viewer)
	visibility := "unknown"
	if post != nil {
		visibility = string(post.Visibility)
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	metrics.AudienceDecisions.WithLabelValues(visibility, result).Inc()
	return allowed
}

// Resolver answers audience questions that need the friend roster.
type Resolver struct {
	db *gorm.DB
}

// NewResolver constructs a Resolver.
func NewResolver(db *gorm.DB) (*Resolver, error) {
	if db == nil {
		return nil, errors.New("audience: db must not be nil")
	}
	return &Resolver{db: db}, nil
}

// NotifiableRecipients narrows the owner's explicit selection to the friends that may actually be
// notified about post. Ids that are unknown, belong to another world, are paused, are not
// subscribed to the post type or cannot see the post are dropped without error.
func (r *Resolver) NotifiableRecipients(ctx context.Context, post *models.Post, explicitFriendIDs []string) ([]string, error) {
	ctx = ensureContext(ctx)
	if post == nil || post.WorldID == nil {
		return []string{}, nil
	}

	ids := NormalizeIDs(explicitFriendIDs)
	if len(ids) == 0 {
		return []string{}, nil
	}

	var friends []models.Friend
	if err := r.db.WithContext(ctx).
		Where("world_id = ? AND id IN ?", *post.WorldID, ids).
		Find(&friends).Error; err != nil {
		return nil, fmt.Errorf("audience: load friends: %w", err)
	}

	return FilterRecipients(post, friends, ids), nil
}

// FilterRecipients is the pure core of NotifiableRecipients. The result preserves the order of
// explicitFriendIDs.
func FilterRecipients(post *models.Post, friends []models.Friend, explicitFriendIDs []string) []string {
	byID := make(map[string]*models.Friend, len(friends))
	for i := range friends {
		byID[friends[i].ID] = &friends[i]
	}

	out := make([]string, 0, len(explicitFriendIDs))
	for _, id := range NormalizeIDs(explicitFriendIDs) {
		friend, ok := byID[id]
		if !ok || !post.BelongsToWorld(friend.WorldID) {
			continue
		}
		if friend.IsPaused() || !friend.SubscribesTo(post.Type) {
			continue
		}
		if !CanView(post, AuthenticatedFriend(friend)) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Normalize trims and de-duplicates the override sets and clears the set the visibility tier does
// not consult. It reports whether anything was discarded; stale overrides are logged, not rejected.
func Normalize(post *models.Post) bool {
	if post == nil {
		return false
	}

	hidden := NormalizeIDs(post.HiddenFromIDs)
	visible := NormalizeIDs(post.VisibleToIDs)
	changed := len(hidden) != len(post.HiddenFromIDs) || len(visible) != len(post.VisibleToIDs)

	log := logger.WithModule("audience")
	if post.Visibility == models.VisibilitySecret && len(hidden) > 0 {
		log.Warn("clearing hidden_from_ids on secret post", zap.String("post_id", post.ID), zap.Int("count", len(hidden)))
		hidden = []string{}
		changed = true
	}
	if post.Visibility != models.VisibilitySecret && len(visible) > 0 {
		log.Warn("clearing visible_to_ids on non-secret post",
			zap.String("post_id", post.ID),
			zap.String("visibility", string(post.Visibility)),
			zap.Int("count", len(visible)),
		)
		visible = []string{}
		changed = true
	}

	post.HiddenFromIDs = hidden
	post.VisibleToIDs = visible
	return changed
}

// NormalizeIDs trims, drops blanks and de-duplicates while keeping first-seen order.
// It never returns nil.
func NormalizeIDs(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
