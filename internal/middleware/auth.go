package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/smallworld/internal/audience"
	iauth "github.com/charlesng35/smallworld/internal/auth"
	"github.com/charlesng35/smallworld/internal/models"
	"github.com/charlesng35/smallworld/pkg/errors"
	"github.com/charlesng35/smallworld/pkg/response"
)

const (
	CtxViewerKey   = "viewer"
	CtxClaimsKey   = "authClaims"
	CtxUserIDKey   = "userID"
	CtxWorldIDKey  = "worldID"
	CtxFriendIDKey = "friendID"

	// FriendTokenHeader carries a friend's capability token.
	FriendTokenHeader = "X-Friend-Token"

	// NotificationStreamPath is the websocket route. Browsers cannot set headers on the upgrade,
	// so only this route also reads credentials from query parameters.
	NotificationStreamPath = "/api/notifications/stream"

	accessTokenQuery = "access_token"
	friendTokenQuery = "friend_token"
)

// FriendAuthenticator resolves a capability token to the friend holding it.
type FriendAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Friend, error)
}

// Viewer resolves who is making the request and stores an audience.Viewer in the context.
// A bearer token identifies an owner, a friend token identifies a friend, and a request
// carrying neither is anonymous. Presented but invalid credentials are rejected.
func Viewer(jwt *iauth.JWTService, friends FriendAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			claims, err := jwt.ValidateAccessToken(token)
			if err != nil {
				c.Header("WWW-Authenticate", "Bearer")
				response.Error(c, errors.ErrUnauthorized)
				c.Abort()
				return
			}
			c.Set(CtxClaimsKey, claims)
			c.Set(CtxUserIDKey, claims.UserID)
			c.Set(CtxWorldIDKey, claims.WorldID)
			c.Set(CtxViewerKey, audience.Owner(claims.UserID, claims.WorldID))
			c.Next()
			return
		}

		if token := friendToken(c); token != "" && friends != nil {
			friend, err := friends.Authenticate(c.Request.Context(), token)
			if err != nil {
				response.Error(c, errors.ErrUnauthorized)
				c.Abort()
				return
			}
			c.Set(CtxFriendIDKey, friend.ID)
			c.Set(CtxViewerKey, audience.AuthenticatedFriend(friend))
			c.Next()
			return
		}

		c.Set(CtxViewerKey, audience.Anonymous())
		c.Next()
	}
}

// RequireOwner aborts unless the request was made by a world owner.
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ViewerFrom(c).Kind != audience.ViewerOwner {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireFriend aborts unless the request carries a valid friend token.
func RequireFriend() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ViewerFrom(c).Kind != audience.ViewerFriend {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireIdentity aborts anonymous requests.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ViewerFrom(c).IsAnonymous() {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}

// ViewerFrom returns the viewer stored by Viewer, or the anonymous viewer.
func ViewerFrom(c *gin.Context) audience.Viewer {
	if v, ok := c.Get(CtxViewerKey); ok {
		if viewer, ok := v.(audience.Viewer); ok {
			return viewer
		}
	}
	return audience.Anonymous()
}

func bearerToken(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if len(authz) >= 7 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:]), true
	}
	if authz != "" {
		return "", true
	}
	if !acceptsQueryCredentials(c) {
		return "", false
	}
	if token := strings.TrimSpace(c.Query(accessTokenQuery)); token != "" {
		return token, true
	}
	return "", false
}

func friendToken(c *gin.Context) string {
	if token := strings.TrimSpace(c.GetHeader(FriendTokenHeader)); token != "" {
		return token
	}
	if !acceptsQueryCredentials(c) {
		return ""
	}
	return strings.TrimSpace(c.Query(friendTokenQuery))
}

func acceptsQueryCredentials(c *gin.Context) bool {
	return c.FullPath() == NotificationStreamPath
}
