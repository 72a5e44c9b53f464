package models

import (
	"fmt"
	"strings"
)

// IdentityKind discriminates the polymorphic owner/recipient/viewer columns.
type IdentityKind string

const (
	IdentityUser   IdentityKind = "User"
	IdentityFriend IdentityKind = "Friend"
)

// Identity is a tagged reference to either a world owner (User) or a Friend.
// The zero value means "nobody": an unattributed registration or a broadcast recipient.
type Identity struct {
	Kind IdentityKind `json:"kind"`
	ID   string       `json:"id"`
}

// UserIdentity returns the identity of a world owner.
func UserIdentity(id string) Identity {
	return Identity{Kind: IdentityUser, ID: id}
}

// FriendIdentity returns the identity of a friend.
func FriendIdentity(id string) Identity {
	return Identity{Kind: IdentityFriend, ID: id}
}

// IsZero reports whether the identity references nobody.
func (i Identity) IsZero() bool {
	return i.Kind == "" && i.ID == ""
}

// Valid reports whether the identity has a known kind and an id.
func (i Identity) Valid() bool {
	return (i.Kind == IdentityUser || i.Kind == IdentityFriend) && strings.TrimSpace(i.ID) != ""
}

// IsFriend reports whether the identity references a friend.
func (i Identity) IsFriend() bool {
	return i.Kind == IdentityFriend && i.ID != ""
}

// Key renders a stable map key such as "Friend:0f3c...".
func (i Identity) Key() string {
	if i.IsZero() {
		return ""
	}
	return string(i.Kind) + ":" + i.ID
}

func (i Identity) String() string {
	if i.IsZero() {
		return "<nobody>"
	}
	return i.Key()
}

// ParseIdentityKind accepts the stored discriminator values case-insensitively.
func ParseIdentityKind(raw string) (IdentityKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user":
		return IdentityUser, nil
	case "friend":
		return IdentityFriend, nil
	default:
		return "", fmt.Errorf("models: unknown identity kind %q", raw)
	}
}
