package models

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// User is a world owner account. Every user owns exactly one World.
type User struct {
	BaseModel

	Name         string `gorm:"type:varchar(120);not null" json:"name"`
	Email        string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`

	World *World `gorm:"foreignKey:OwnerID" json:"world,omitempty"`
}

// BeforeSave lowercases the email so the unique index is case-insensitive.
func (u *User) BeforeSave(tx *gorm.DB) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Name = strings.TrimSpace(u.Name)
	if u.Email == "" {
		return errors.New("user: email is required")
	}
	return nil
}
