package models

// Reaction is an emoji left on a post. A reactor may use each emoji once per post.
type Reaction struct {
	BaseModel

	PostID      string       `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_reactions_reactor_post_emoji,priority:3" json:"post_id"`
	ReactorType IdentityKind `gorm:"type:varchar(16);not null;uniqueIndex:idx_reactions_reactor_post_emoji,priority:1" json:"reactor_type"`
	ReactorID   string       `gorm:"type:varchar(36);not null;uniqueIndex:idx_reactions_reactor_post_emoji,priority:2" json:"reactor_id"`
	Emoji       string       `gorm:"type:varchar(16);not null;uniqueIndex:idx_reactions_reactor_post_emoji,priority:4" json:"emoji"`
}

// PostView records that a viewer has seen a post.
type PostView struct {
	BaseModel

	PostID     string       `gorm:"type:varchar(36);not null;uniqueIndex:idx_post_views_post_viewer,priority:1" json:"post_id"`
	ViewerType IdentityKind `gorm:"type:varchar(16);not null;uniqueIndex:idx_post_views_post_viewer,priority:2" json:"viewer_type"`
	ViewerID   string       `gorm:"type:varchar(36);not null;uniqueIndex:idx_post_views_post_viewer,priority:3" json:"viewer_id"`
}

// Reply is a private response to a post, visible to the post's owner.
type Reply struct {
	BaseModel

	PostID     string       `gorm:"type:varchar(36);not null;index" json:"post_id"`
	AuthorType IdentityKind `gorm:"type:varchar(16);not null;index:idx_replies_author,priority:1" json:"author_type"`
	AuthorID   string       `gorm:"type:varchar(36);not null;index:idx_replies_author,priority:2" json:"author_id"`
	Body       string       `gorm:"type:text;not null" json:"body"`
}
