package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/smallworld/internal/handlers/testutil"
)

type friendPayload struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	PausedSince         *string  `json:"paused_since"`
	SubscribedPostTypes []string `json:"subscribed_post_types"`
	MessagingPlatform   string   `json:"messaging_platform"`
	SMSFallback         bool     `json:"sms_fallback"`
	TimeZoneName        string   `json:"time_zone_name"`
}

func TestFriendLifecycle(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	owner := env.RegisterOwner("Secret123!")

	friend := env.CreateFriend(owner, map[string]any{
		"name":         "Robin",
		"emoji":        "🌱",
		"phone_number": "+15555550100",
	})

	resp := env.Request(http.MethodGet, "/api/friends", nil, owner.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var listed []friendPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &listed)
	require.Len(t, listed, 1)
	require.Equal(t, friend.ID, listed[0].ID)
	require.NotContains(t, resp.Body.String(), friend.AccessToken)

	resp = env.Request(http.MethodPost, "/api/friends", map[string]any{"name": "Robin"}, owner.AccessToken)
	require.Equal(t, http.StatusConflict, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPatch, "/api/friends/"+friend.ID, map[string]any{"name": "Robin B"}, owner.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, "/api/friends/"+friend.ID+"/pause", nil, owner.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var paused friendPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &paused)
	require.NotNil(t, paused.PausedSince)

	resp = env.Request(http.MethodPost, "/api/friends/"+friend.ID+"/unpause", nil, owner.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var unpaused friendPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &unpaused)
	require.Nil(t, unpaused.PausedSince)

	resp = env.Request(http.MethodDelete, "/api/friends/"+friend.ID, nil, owner.AccessToken)
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())

	// The capability token dies with the friend.
	resp = env.FriendRequest(http.MethodGet, "/api/me", nil, friend.AccessToken)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestFriendCannotManageFriends(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	owner := env.RegisterOwner("Secret123!")
	friend := env.CreateFriend(owner, map[string]any{"name": "Sky"})

	resp := env.FriendRequest(http.MethodGet, "/api/friends", nil, friend.AccessToken)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = env.Request(http.MethodGet, "/api/me", nil, owner.AccessToken)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	other := env.RegisterOwner("Secret123!")
	resp = env.Request(http.MethodPost, "/api/friends/"+friend.ID+"/pause", nil, other.AccessToken)
	require.Equal(t, http.StatusNotFound, resp.Code, resp.Body.String())
}

func TestFriendPreferences(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	owner := env.RegisterOwner("Secret123!")
	friend := env.CreateFriend(owner, map[string]any{"name": "Ash"})

	resp := env.FriendRequest(http.MethodGet, "/api/me", nil, friend.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var me friendPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &me)
	require.Equal(t, friend.ID, me.ID)
	require.NotEmpty(t, me.SubscribedPostTypes)

	resp = env.FriendRequest(http.MethodPatch, "/api/me", map[string]any{
		"subscribed_post_types": []string{"poem"},
		"messaging_platform":    "sms",
		"time_zone_name":        "Europe/Lisbon",
	}, friend.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &me)
	require.Equal(t, []string{"poem"}, me.SubscribedPostTypes)
	require.Equal(t, "sms", me.MessagingPlatform)
	require.Equal(t, "Europe/Lisbon", me.TimeZoneName)

	resp = env.FriendRequest(http.MethodPatch, "/api/me", map[string]any{
		"subscribed_post_types": []string{"limerick"},
	}, friend.AccessToken)
	require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())

	resp = env.FriendRequest(http.MethodGet, "/api/me", nil, "unknown-token")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}
