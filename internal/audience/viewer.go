package audience

import "github.com/charlesng35/smallworld/internal/models"

// ViewerKind identifies who is looking at a post.
type ViewerKind string

const (
	// ViewerOwner is an authenticated world owner.
	ViewerOwner ViewerKind = "owner"
	// ViewerFriend is a friend authenticated against the world the post belongs to.
	ViewerFriend ViewerKind = "friend"
	// ViewerAnonymous carries no identity at all.
	ViewerAnonymous ViewerKind = "anonymous"
	// ViewerAssociatedFriend is an owner recognised, through device correlation, as a friend of
	// another world.
	ViewerAssociatedFriend ViewerKind = "associated_friend"
)

// Viewer is passed explicitly into every visibility decision.
type Viewer struct {
	Kind    ViewerKind
	UserID  string
	WorldID string
	Friend  *models.Friend
}

// Owner builds the viewer for a world owner.
func Owner(userID, worldID string) Viewer {
	return Viewer{Kind: ViewerOwner, UserID: userID, WorldID: worldID}
}

// AuthenticatedFriend builds the viewer for a friend holding a valid access token.
func AuthenticatedFriend(friend *models.Friend) Viewer {
	if friend == nil {
		return Anonymous()
	}
	return Viewer{Kind: ViewerFriend, Friend: friend}
}

// AssociatedFriend builds the viewer for an owner who is also, by correlation, the given friend.
func AssociatedFriend(friend *models.Friend) Viewer {
	if friend == nil {
		return Anonymous()
	}
	return Viewer{Kind: ViewerAssociatedFriend, Friend: friend}
}

// Anonymous builds the public viewer.
func Anonymous() Viewer {
	return Viewer{Kind: ViewerAnonymous}
}

// FriendID returns the friend identity carried by the viewer, if any.
func (v Viewer) FriendID() string {
	if v.Friend == nil {
		return ""
	}
	switch v.Kind {
	case ViewerFriend, ViewerAssociatedFriend:
		return v.Friend.ID
	}
	return ""
}

// Identity returns the polymorphic identity used for per-viewer annotations.
func (v Viewer) Identity() models.Identity {
	switch v.Kind {
	case ViewerOwner:
		return models.UserIdentity(v.UserID)
	case ViewerFriend, ViewerAssociatedFriend:
		if id := v.FriendID(); id != "" {
			return models.FriendIdentity(id)
		}
	}
	return models.Identity{}
}

// IsAnonymous reports whether the viewer has no identity.
func (v Viewer) IsAnonymous() bool {
	return v.Identity().IsZero()
}
