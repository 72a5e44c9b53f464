package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Visibility is the audience tier of a post.
type Visibility string

const (
	VisibilitySecret       Visibility = "secret"
	VisibilityFriends      Visibility = "friends"
	VisibilityChosenFamily Visibility = "chosen_family"
	VisibilityPublic       Visibility = "public"
)

// Valid reports whether v is a known visibility tier.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilitySecret, VisibilityFriends, VisibilityChosenFamily, VisibilityPublic:
		return true
	}
	return false
}

// PostType categorises a post; friends subscribe to notifications per type.
type PostType string

const (
	PostTypeJournalEntry PostType = "journal_entry"
	PostTypePoem         PostType = "poem"
	PostTypeInvitation   PostType = "invitation"
	PostTypeQuestion     PostType = "question"
	PostTypeStatus       PostType = "status"
	PostTypeGratitude    PostType = "gratitude"
	PostTypeFollowUp     PostType = "follow_up"
)

// AllPostTypes lists every post type in display order.
var AllPostTypes = []PostType{
	PostTypeJournalEntry,
	PostTypePoem,
	PostTypeInvitation,
	PostTypeQuestion,
	PostTypeStatus,
	PostTypeGratitude,
	PostTypeFollowUp,
}

// Valid reports whether t is a known post type.
func (t PostType) Valid() bool {
	for _, known := range AllPostTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Post is a single piece of content published by a world owner.
type Post struct {
	BaseModel

	WorldID      *string    `gorm:"type:varchar(36);index" json:"world_id"`
	SpaceID      *string    `gorm:"type:varchar(36);index" json:"space_id,omitempty"`
	AuthorID     string     `gorm:"type:varchar(36);not null;index" json:"author_id"`
	Type         PostType   `gorm:"type:varchar(32);not null" json:"type"`
	Visibility   Visibility `gorm:"type:varchar(32);not null;index" json:"visibility"`
	Body         string     `gorm:"type:text" json:"body"`
	PinnedUntil  *time.Time `json:"pinned_until,omitempty"`
	QuotedPostID *string    `gorm:"type:varchar(36)" json:"quoted_post_id,omitempty"`

	HiddenFromIDs datatypes.JSONSlice[string] `json:"hidden_from_ids"`
	VisibleToIDs  datatypes.JSONSlice[string] `json:"visible_to_ids"`
}

// BeforeSave enforces the enum columns and guarantees the id sets are stored as arrays, never null.
func (p *Post) BeforeSave(tx *gorm.DB) error {
	if !p.Type.Valid() {
		return fmt.Errorf("post: unknown type %q", p.Type)
	}
	if !p.Visibility.Valid() {
		return fmt.Errorf("post: unknown visibility %q", p.Visibility)
	}
	if strings.TrimSpace(p.AuthorID) == "" {
		return fmt.Errorf("post: author is required")
	}
	if p.PinnedUntil != nil {
		pinned := NormalizeTime(*p.PinnedUntil)
		p.PinnedUntil = &pinned
	}
	if p.HiddenFromIDs == nil {
		p.HiddenFromIDs = datatypes.JSONSlice[string]{}
	}
	if p.VisibleToIDs == nil {
		p.VisibleToIDs = datatypes.JSONSlice[string]{}
	}
	return nil
}

// BelongsToWorld reports whether the post lives in the given world.
func (p *Post) BelongsToWorld(worldID string) bool {
	return p != nil && p.WorldID != nil && worldID != "" && *p.WorldID == worldID
}

// PinnedAt reports whether the post is pinned at the given instant.
func (p *Post) PinnedAt(now time.Time) bool {
	return p != nil && p.PinnedUntil != nil && p.PinnedUntil.After(now)
}

// HiddenFrom reports whether friendID is listed in hidden_from_ids.
func (p *Post) HiddenFrom(friendID string) bool {
	return friendID != "" && containsID(p.HiddenFromIDs, friendID)
}

// VisibleTo reports whether friendID is listed in visible_to_ids.
func (p *Post) VisibleTo(friendID string) bool {
	return friendID != "" && containsID(p.VisibleToIDs, friendID)
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
