package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/audience"
	"github.com/charlesng35/smallworld/internal/feed"
	"github.com/charlesng35/smallworld/internal/models"
	apperrors "github.com/charlesng35/smallworld/pkg/errors"
	"github.com/charlesng35/smallworld/pkg/metrics"
)

const (
	DefaultFeedPageSize = 20
	MaxFeedPageSize     = 100
)

// AssociationSource finds the friend identities an owner holds on other worlds.
type AssociationSource interface {
	AssociatedFriends(ctx context.Context, userID string) ([]models.Friend, error)
}

// FeedPost is a post annotated for one viewer.
type FeedPost struct {
	ID           string            `json:"id"`
	WorldID      *string           `json:"world_id"`
	SpaceID      *string           `json:"space_id,omitempty"`
	AuthorID     string            `json:"author_id"`
	Type         models.PostType   `json:"type"`
	Visibility   models.Visibility `json:"visibility"`
	Body         string            `json:"body"`
	PinnedUntil  *time.Time        `json:"pinned_until,omitempty"`
	QuotedPostID *string           `json:"quoted_post_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`

	// Override sets are only shown to the world's owner.
	HiddenFromIDs []string `json:"hidden_from_ids,omitempty"`
	VisibleToIDs  []string `json:"visible_to_ids,omitempty"`

	Pinned        bool     `json:"pinned"`
	Seen          bool     `json:"seen"`
	Replied       bool     `json:"replied"`
	RepliersCount int      `json:"repliers_count"`
	ReactionCount int      `json:"reaction_count"`
	MyReactions   []string `json:"my_reactions"`
}

// FeedPage is one keyset page. Pinned is only filled on the first page of a world.
type FeedPage struct {
	Posts      []FeedPost `json:"posts"`
	Pinned     []FeedPost `json:"pinned,omitempty"`
	NextCursor string     `json:"next_cursor,omitempty"`
	HasMore    bool       `json:"has_more"`
}

// FeedOption customises a FeedService.
type FeedOption func(*FeedService)

// WithPageSizes overrides the default and maximum page sizes. Non-positive values are ignored.
func WithPageSizes(defaultSize, maxSize int) FeedOption {
	return func(s *FeedService) {
		if maxSize > 0 {
			s.maxLimit = maxSize
		}
		if defaultSize > 0 {
			s.defaultLimit = defaultSize
		}
		if s.defaultLimit > s.maxLimit {
			s.defaultLimit = s.maxLimit
		}
	}
}

// WithFeedClock overrides the time source used for pin evaluation.
func WithFeedClock(now func() time.Time) FeedOption {
	return func(s *FeedService) {
		if now != nil {
			s.now = now
		}
	}
}

// FeedService assembles keyset-paginated feeds filtered through the audience rules.
type FeedService struct {
	db           *gorm.DB
	associations AssociationSource
	defaultLimit int
	maxLimit     int
	now          func() time.Time
}

// NewFeedService constructs a FeedService.
func NewFeedService(db *gorm.DB, associations AssociationSource, opts ...FeedOption) (*FeedService, error) {
	if db == nil {
		return nil, errors.New("feed service: db is required")
	}
	if associations == nil {
		return nil, errors.New("feed service: association source is required")
	}
	svc := &FeedService{
		db:           db,
		associations: associations,
		defaultLimit: DefaultFeedPageSize,
		maxLimit:     MaxFeedPageSize,
		now:          utcNow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

type feedSource struct {
	viewer audience.Viewer
	scope  func(*gorm.DB) *gorm.DB
}

// Page assembles the viewer's universe feed: their own world, worlds they belong to as a friend
// or associated friend, and public posts of every other world.
func (s *FeedService) Page(ctx context.Context, viewer audience.Viewer, cursorToken string, limit int) (*FeedPage, error) {
	ctx = ensureContext(ctx)
	cursor, err := feed.Decode(cursorToken)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit, s.defaultLimit, s.maxLimit)

	sources, related, err := s.universeSources(ctx, viewer)
	if err != nil {
		return nil, err
	}
	sources = append(sources, feedSource{
		viewer: viewer,
		scope: func(db *gorm.DB) *gorm.DB {
			db = db.Where("visibility = ? AND world_id IS NOT NULL", string(models.VisibilityPublic))
			if len(related) > 0 {
				db = db.Where("world_id NOT IN ?", related)
			}
			return db
		},
	})

	batches := make([][]models.Post, 0, len(sources))
	for _, source := range sources {
		posts, err := s.fetch(ctx, source, cursor, limit)
		if err != nil {
			return nil, err
		}
		batches = append(batches, posts)
	}

	posts, hasMore := feed.Merge(limit, batches...)
	metrics.FeedPages.WithLabelValues("universe").Inc()
	return s.page(ctx, viewer, posts, hasMore)
}

func (s *FeedService) universeSources(ctx context.Context, viewer audience.Viewer) ([]feedSource, []string, error) {
	var sources []feedSource
	var related []string
	addWorld := func(worldID string, v audience.Viewer) {
		sources = append(sources, feedSource{
			viewer: v,
			scope: func(db *gorm.DB) *gorm.DB {
				return db.Where("world_id = ?", worldID)
			},
		})
		related = append(related, worldID)
	}

	switch viewer.Kind {
	case audience.ViewerOwner:
		if viewer.WorldID != "" {
			addWorld(viewer.WorldID, viewer)
		}
		friends, err := s.associations.AssociatedFriends(ctx, viewer.UserID)
		if err != nil {
			return nil, nil, err
		}
		for i := range friends {
			addWorld(friends[i].WorldID, audience.AssociatedFriend(&friends[i]))
		}
	case audience.ViewerFriend, audience.ViewerAssociatedFriend:
		if viewer.Friend != nil {
			addWorld(viewer.Friend.WorldID, viewer)
		}
	}
	return sources, related, nil
}

// WorldPage assembles one world's posts for viewer. An owner browsing another world is seen as
// their associated friend there when their devices correlate.
func (s *FeedService) WorldPage(ctx context.Context, viewer audience.Viewer, handle, cursorToken string, limit int) (*FeedPage, error) {
	ctx = ensureContext(ctx)
	cursor, err := feed.Decode(cursorToken)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit, s.defaultLimit, s.maxLimit)

	var world models.World
	err = s.db.WithContext(ctx).Where("handle = ?", strings.ToLower(strings.TrimSpace(handle))).Take(&world).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("feed service: load world: %w", err)
	}

	effective, err := s.worldViewer(ctx, viewer, world.ID)
	if err != nil {
		return nil, err
	}

	source := feedSource{
		viewer: effective,
		scope: func(db *gorm.DB) *gorm.DB {
			return db.Where("world_id = ?", world.ID)
		},
	}
	posts, err := s.fetch(ctx, source, cursor, limit)
	if err != nil {
		return nil, err
	}
	posts, hasMore := feed.Merge(limit, posts)

	result, err := s.page(ctx, effective, posts, hasMore)
	if err != nil {
		return nil, err
	}
	if cursor.IsZero() {
		pinned, err := s.pinned(ctx, effective, world.ID)
		if err != nil {
			return nil, err
		}
		result.Pinned = pinned
	}
	metrics.FeedPages.WithLabelValues("world").Inc()
	return result, nil
}

func (s *FeedService) worldViewer(ctx context.Context, viewer audience.Viewer, worldID string) (audience.Viewer, error) {
	if viewer.Kind != audience.ViewerOwner || viewer.WorldID == worldID {
		return viewer, nil
	}
	friends, err := s.associations.AssociatedFriends(ctx, viewer.UserID)
	if err != nil {
		return viewer, err
	}
	for i := range friends {
		if friends[i].WorldID == worldID {
			return audience.AssociatedFriend(&friends[i]), nil
		}
	}
	return viewer, nil
}

func (s *FeedService) pinned(ctx context.Context, viewer audience.Viewer, worldID string) ([]FeedPost, error) {
	now := models.NormalizeTime(s.now())
	var rows []models.Post
	if err := s.db.WithContext(ctx).
		Where("world_id = ? AND pinned_until IS NOT NULL AND pinned_until > ?", worldID, now).
		Order("created_at DESC").Order("id ASC").
		Limit(s.maxLimit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("feed service: load pinned posts: %w", err)
	}
	visible := rows[:0]
	for i := range rows {
		if audience.CanView(&rows[i], viewer) {
			visible = append(visible, rows[i])
		}
	}
	if len(visible) == 0 {
		return nil, nil
	}
	return s.annotate(ctx, viewer, visible)
}

// Post returns a single annotated post. Posts the viewer may not see are reported as not found.
func (s *FeedService) Post(ctx context.Context, viewer audience.Viewer, postID string) (*FeedPost, error) {
	ctx = ensureContext(ctx)
	var post models.Post
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(postID)).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("feed service: load post: %w", err)
	}

	effective := viewer
	if post.WorldID != nil {
		if effective, err = s.worldViewer(ctx, viewer, *post.WorldID); err != nil {
			return nil, err
		}
	}
	if !audience.Decide(&post, effective) {
		return nil, apperrors.ErrNotFound
	}

	items, err := s.annotate(ctx, effective, []models.Post{post})
	if err != nil {
		return nil, err
	}
	return &items[0], nil
}

// fetch reads one source in keyset order until it holds limit+1 visible posts or runs dry.
func (s *FeedService) fetch(ctx context.Context, source feedSource, cursor feed.Cursor, limit int) ([]models.Post, error) {
	want := limit + 1
	position := cursor
	out := make([]models.Post, 0, want)

	for len(out) < want {
		query := source.scope(s.db.WithContext(ctx).Model(&models.Post{}))
		if !position.IsZero() {
			query = query.Where("(created_at < ? OR (created_at = ? AND id > ?))",
				position.CreatedAt, position.CreatedAt, position.ID)
		}
		var rows []models.Post
		if err := query.Order("created_at DESC").Order("id ASC").Limit(want).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("feed service: load posts: %w", err)
		}
		for i := range rows {
			if audience.CanView(&rows[i], source.viewer) {
				out = append(out, rows[i])
			}
		}
		if len(rows) < want {
			break
		}
		position = feed.CursorFor(rows[len(rows)-1])
	}
	if len(out) > want {
		out = out[:want]
	}
	return out, nil
}

func (s *FeedService) page(ctx context.Context, viewer audience.Viewer, posts []models.Post, hasMore bool) (*FeedPage, error) {
	items, err := s.annotate(ctx, viewer, posts)
	if err != nil {
		return nil, err
	}
	result := &FeedPage{Posts: items, HasMore: hasMore}
	if hasMore && len(posts) > 0 {
		result.NextCursor = feed.CursorFor(posts[len(posts)-1]).Encode()
	}
	return result, nil
}

type postCount struct {
	PostID string
	Total  int64
}

type replyAuthor struct {
	PostID     string
	AuthorType models.IdentityKind
	AuthorID   string
}

// annotate computes per-viewer flags with one lookup per annotation kind. Nothing is cached.
func (s *FeedService) annotate(ctx context.Context, viewer audience.Viewer, posts []models.Post) ([]FeedPost, error) {
	items := make([]FeedPost, 0, len(posts))
	if len(posts) == 0 {
		return items, nil
	}

	ids := make([]string, 0, len(posts))
	for _, post := range posts {
		ids = append(ids, post.ID)
	}
	db := s.db.WithContext(ctx)
	identity := viewer.Identity()

	var reactionCounts []postCount
	if err := db.Model(&models.Reaction{}).
		Select("post_id, COUNT(*) AS total").
		Where("post_id IN ?", ids).
		Group("post_id").
		Scan(&reactionCounts).Error; err != nil {
		return nil, fmt.Errorf("feed service: count reactions: %w", err)
	}
	reactionsByPost := make(map[string]int, len(reactionCounts))
	for _, row := range reactionCounts {
		reactionsByPost[row.PostID] = int(row.Total)
	}

	var authors []replyAuthor
	if err := db.Model(&models.Reply{}).
		Distinct("post_id", "author_type", "author_id").
		Where("post_id IN ?", ids).
		Scan(&authors).Error; err != nil {
		return nil, fmt.Errorf("feed service: load repliers: %w", err)
	}
	repliers := make(map[string]int, len(authors))
	replied := make(map[string]bool)
	for _, author := range authors {
		repliers[author.PostID]++
		if identity.Valid() && author.AuthorType == identity.Kind && author.AuthorID == identity.ID {
			replied[author.PostID] = true
		}
	}

	seen := make(map[string]bool)
	mine := make(map[string][]string)
	if identity.Valid() {
		var viewed []string
		if err := db.Model(&models.PostView{}).
			Where("post_id IN ? AND viewer_type = ? AND viewer_id = ?", ids, string(identity.Kind), identity.ID).
			Pluck("post_id", &viewed).Error; err != nil {
			return nil, fmt.Errorf("feed service: load views: %w", err)
		}
		for _, id := range viewed {
			seen[id] = true
		}

		var reactions []models.Reaction
		if err := db.Where("post_id IN ? AND reactor_type = ? AND reactor_id = ?", ids, string(identity.Kind), identity.ID).
			Order("created_at ASC").Order("id ASC").
			Find(&reactions).Error; err != nil {
			return nil, fmt.Errorf("feed service: load reactions: %w", err)
		}
		for _, reaction := range reactions {
			mine[reaction.PostID] = append(mine[reaction.PostID], reaction.Emoji)
		}
	}

	now := s.now()
	for i := range posts {
		post := &posts[i]
		item := FeedPost{
			ID:            post.ID,
			WorldID:       post.WorldID,
			SpaceID:       post.SpaceID,
			AuthorID:      post.AuthorID,
			Type:          post.Type,
			Visibility:    post.Visibility,
			Body:          post.Body,
			PinnedUntil:   post.PinnedUntil,
			QuotedPostID:  post.QuotedPostID,
			CreatedAt:     post.CreatedAt,
			UpdatedAt:     post.UpdatedAt,
			Pinned:        post.PinnedAt(now),
			Seen:          seen[post.ID],
			Replied:       replied[post.ID],
			RepliersCount: repliers[post.ID],
			ReactionCount: reactionsByPost[post.ID],
			MyReactions:   mine[post.ID],
		}
		if item.MyReactions == nil {
			item.MyReactions = []string{}
		}
		if viewer.Kind == audience.ViewerOwner && post.BelongsToWorld(viewer.WorldID) {
			item.HiddenFromIDs = append([]string{}, post.HiddenFromIDs...)
			item.VisibleToIDs = append([]string{}, post.VisibleToIDs...)
		}
		items = append(items, item)
	}
	return items, nil
}
