package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MessagingPlatform selects how a friend prefers to be notified.
type MessagingPlatform string

const (
	MessagingPush MessagingPlatform = "push"
	MessagingSMS  MessagingPlatform = "sms"
)

// Friend is a member of a world's circle. Friends authenticate with a capability token
// instead of an account.
type Friend struct {
	BaseModel

	WorldID      string     `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_friends_world_name,priority:1;uniqueIndex:idx_friends_world_phone,priority:1" json:"world_id"`
	Name         string     `gorm:"type:varchar(120);not null;uniqueIndex:idx_friends_world_name,priority:2" json:"name"`
	Emoji        string     `gorm:"type:varchar(16)" json:"emoji"`
	PhoneNumber  *string    `gorm:"type:varchar(32);uniqueIndex:idx_friends_world_phone,priority:2" json:"phone_number,omitempty"`
	AccessToken  string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	ChosenFamily bool       `gorm:"default:false" json:"chosen_family"`
	PausedSince  *time.Time `json:"paused_since,omitempty"`
	TimeZoneName string     `gorm:"type:varchar(64)" json:"time_zone_name"`

	SubscribedPostTypes datatypes.JSONSlice[PostType] `gorm:"not null" json:"subscribed_post_types"`
	MessagingPlatform   MessagingPlatform             `gorm:"type:varchar(16);not null" json:"messaging_platform"`
	SMSFallback         bool                          `gorm:"column:sms_fallback;default:false" json:"sms_fallback"`
}

// BeforeSave fills defaults and validates the enum columns.
// A nil subscription set means "everything"; an explicit empty set means "nothing".
func (f *Friend) BeforeSave(tx *gorm.DB) error {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return errors.New("friend: name is required")
	}
	if strings.TrimSpace(f.WorldID) == "" {
		return errors.New("friend: world is required")
	}
	if f.PhoneNumber != nil {
		trimmed := strings.TrimSpace(*f.PhoneNumber)
		if trimmed == "" {
			f.PhoneNumber = nil
		} else {
			f.PhoneNumber = &trimmed
		}
	}
	if f.MessagingPlatform == "" {
		f.MessagingPlatform = MessagingPush
	}
	if f.MessagingPlatform != MessagingPush && f.MessagingPlatform != MessagingSMS {
		return fmt.Errorf("friend: unknown messaging platform %q", f.MessagingPlatform)
	}
	if f.SubscribedPostTypes == nil {
		f.SubscribedPostTypes = append(datatypes.JSONSlice[PostType]{}, AllPostTypes...)
	}
	return nil
}

// Identity returns the polymorphic reference for this friend.
func (f *Friend) Identity() Identity {
	return FriendIdentity(f.ID)
}

// IsPaused reports whether the friend is currently excluded from audience resolution.
func (f *Friend) IsPaused() bool {
	return f != nil && f.PausedSince != nil
}

// SubscribesTo reports whether the friend wants notifications for posts of type t.
func (f *Friend) SubscribesTo(t PostType) bool {
	if f == nil {
		return false
	}
	for _, subscribed := range f.SubscribedPostTypes {
		if subscribed == t {
			return true
		}
	}
	return false
}

// HasPhone reports whether an SMS can be addressed to the friend.
func (f *Friend) HasPhone() bool {
	return f != nil && f.PhoneNumber != nil && *f.PhoneNumber != ""
}
