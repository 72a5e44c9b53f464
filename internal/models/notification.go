package models

import (
	"time"
)

// Noticeable types recorded on notifications.
const (
	NoticeablePost  = "Post"
	NoticeableReply = "Reply"
)

// Noticeable references the event a notification is about.
type Noticeable struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// PostNoticeable returns the noticeable reference for a post.
func PostNoticeable(postID string) Noticeable {
	return Noticeable{Type: NoticeablePost, ID: postID}
}

// ReplyNoticeable returns the noticeable reference for a reply.
func ReplyNoticeable(replyID string) Noticeable {
	return Noticeable{Type: NoticeableReply, ID: replyID}
}

// Notification is one recipient's record of an event. The unique index over
// (noticeable, recipient) makes dispatch idempotent; an empty recipient means broadcast.
// State moves created -> pushed -> delivered and never backwards. PushSkippedAt marks rows no
// device could receive when they were considered, which takes them out of the pending push set.
type Notification struct {
	BaseModel

	NoticeableType string       `gorm:"type:varchar(32);not null;uniqueIndex:idx_notifications_noticeable_recipient,priority:1" json:"noticeable_type"`
	NoticeableID   string       `gorm:"type:varchar(36);not null;uniqueIndex:idx_notifications_noticeable_recipient,priority:2" json:"noticeable_id"`
	RecipientType  IdentityKind `gorm:"type:varchar(16);not null;uniqueIndex:idx_notifications_noticeable_recipient,priority:3;index:idx_notifications_recipient,priority:1" json:"recipient_type,omitempty"`
	RecipientID    string       `gorm:"type:varchar(36);not null;uniqueIndex:idx_notifications_noticeable_recipient,priority:4;index:idx_notifications_recipient,priority:2" json:"recipient_id,omitempty"`

	DeliveryToken string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	PushedAt      *time.Time `gorm:"index" json:"pushed_at,omitempty"`
	PushSkippedAt *time.Time `gorm:"index" json:"push_skipped_at,omitempty"`
	DeliveredAt   *time.Time `gorm:"index" json:"delivered_at,omitempty"`
}

// Recipient returns the polymorphic recipient or the zero Identity for broadcasts.
func (n *Notification) Recipient() Identity {
	if n == nil || n.RecipientID == "" {
		return Identity{}
	}
	return Identity{Kind: n.RecipientType, ID: n.RecipientID}
}

// Noticeable returns the event reference.
func (n *Notification) Noticeable() Noticeable {
	return Noticeable{Type: n.NoticeableType, ID: n.NoticeableID}
}

// TextBlast is the SMS fallback record for a friend who cannot receive push.
// At most one exists per (post, friend).
type TextBlast struct {
	BaseModel

	PostID      string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_text_blasts_post_friend,priority:1" json:"post_id"`
	FriendID    string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_text_blasts_post_friend,priority:2;index" json:"friend_id"`
	PhoneNumber string     `gorm:"type:varchar(32);not null" json:"phone_number"`
	SentAt      *time.Time `gorm:"index" json:"sent_at,omitempty"`
}
