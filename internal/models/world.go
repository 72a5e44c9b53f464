package models

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// World is the private space of one owner. It is created at signup and never hard-deleted.
type World struct {
	BaseModel

	OwnerID            string `gorm:"type:varchar(36);uniqueIndex;not null" json:"owner_id"`
	Handle             string `gorm:"type:varchar(64);uniqueIndex;not null" json:"handle"`
	Name               string `gorm:"type:varchar(120)" json:"name"`
	Theme              string `gorm:"type:varchar(32);default:'default'" json:"theme"`
	AllowFriendSharing bool   `gorm:"default:false" json:"allow_friend_sharing"`
	HideNeko           bool   `gorm:"default:false" json:"hide_neko"`
	HideStats          bool   `gorm:"default:false" json:"hide_stats"`

	Owner *User `gorm:"foreignKey:OwnerID" json:"-"`
}

func (w *World) BeforeSave(tx *gorm.DB) error {
	w.Handle = strings.ToLower(strings.TrimSpace(w.Handle))
	if w.Handle == "" {
		return errors.New("world: handle is required")
	}
	if strings.TrimSpace(w.OwnerID) == "" {
		return errors.New("world: owner is required")
	}
	return nil
}
