package handlers_test

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/smallworld/internal/handlers/testutil"
)

type postPayload struct {
	ID            string   `json:"id"`
	Visibility    string   `json:"visibility"`
	Body          string   `json:"body"`
	Seen          bool     `json:"seen"`
	Replied       bool     `json:"replied"`
	RepliersCount int      `json:"repliers_count"`
	ReactionCount int      `json:"reaction_count"`
	MyReactions   []string `json:"my_reactions"`
	VisibleToIDs  []string `json:"visible_to_ids"`
}

type pagePayload struct {
	Posts  []postPayload `json:"posts"`
	Pinned []postPayload `json:"pinned"`
}

func createPost(t *testing.T, env *testutil.Env, owner testutil.Owner, body map[string]any) (string, []string) {
	t.Helper()

	resp := env.Request(http.MethodPost, "/api/posts", body, owner.AccessToken)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var published struct {
		Post struct {
			ID string `json:"id"`
		} `json:"post"`
		Notified []string `json:"notified_friend_ids"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &published)
	require.NotEmpty(t, published.Post.ID)
	return published.Post.ID, published.Notified
}

func postIDs(posts []postPayload) []string {
	ids := make([]string, 0, len(posts))
	for _, post := range posts {
		ids = append(ids, post.ID)
	}
	return ids
}

func TestWorldFeedVisibilityPerViewer(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	owner := env.RegisterOwner("Secret123!")
	closeFriend := env.CreateFriend(owner, map[string]any{"name": "Close"})
	other := env.CreateFriend(owner, map[string]any{"name": "Other"})

	publicID, _ := createPost(t, env, owner, map[string]any{"type": "status", "visibility": "public", "body": "hello world"})
	friendsID, _ := createPost(t, env, owner, map[string]any{"type": "poem", "visibility": "friends", "body": "for friends"})
	secretID, _ := createPost(t, env, owner, map[string]any{
		"type":           "journal_entry",
		"visibility":     "secret",
		"body":           "just for close",
		"visible_to_ids": []string{closeFriend.ID},
	})
	hiddenID, _ := createPost(t, env, owner, map[string]any{
		"type":            "status",
		"visibility":      "friends",
		"body":            "not for other",
		"hidden_from_ids": []string{other.ID},
	})

	path := "/api/worlds/" + owner.Handle + "/posts"

	resp := env.Request(http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var page pagePayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &page)
	require.Equal(t, []string{publicID}, postIDs(page.Posts))

	resp = env.FriendRequest(http.MethodGet, path, nil, closeFriend.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &page)
	require.Equal(t, []string{hiddenID, secretID, friendsID, publicID}, postIDs(page.Posts))
	for _, post := range page.Posts {
		require.Empty(t, post.VisibleToIDs, "override sets are owner-only")
	}

	resp = env.FriendRequest(http.MethodGet, path, nil, other.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &page)
	require.Equal(t, []string{friendsID, publicID}, postIDs(page.Posts))

	resp = env.Request(http.MethodGet, path, nil, owner.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &page)
	require.Len(t, page.Posts, 4)

	resp = env.Request(http.MethodGet, "/api/posts/"+secretID, nil, "")
	require.Equal(t, http.StatusNotFound, resp.Code)
	resp = env.FriendRequest(http.MethodGet, "/api/posts/"+secretID, nil, other.AccessToken)
	require.Equal(t, http.StatusNotFound, resp.Code)
	resp = env.FriendRequest(http.MethodGet, "/api/posts/"+secretID, nil, closeFriend.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodGet, "/api/worlds/no-such-world/posts", nil, "")
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestFeedCursorPagination(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	owner := env.RegisterOwner("Secret123!")

	var created []string
	for i := 0; i < 5; i++ {
		id, _ := createPost(t, env, owner, map[string]any{"type": "status", "visibility": "public", "body": "post"})
		created = append([]string{id}, created...)
	}

	var seen []string
	cursor := ""
	for pages := 0; pages < 5; pages++ {
		path := "/api/worlds/" + owner.Handle + "/posts?limit=2"
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		resp := env.Request(http.MethodGet, path, nil, "")
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		payload := testutil.DecodeResponse(t, resp)
		var page pagePayload
		testutil.DecodeInto(t, payload.Data, &page)
		seen = append(seen, postIDs(page.Posts)...)

		require.NotNil(t, payload.Meta)
		if !payload.Meta.HasMore {
			require.Empty(t, payload.Meta.NextCursor)
			break
		}
		cursor = payload.Meta.NextCursor
	}
	require.Equal(t, created, seen)

	resp := env.Request(http.MethodGet, "/api/feed?cursor=not-a-cursor", nil, "")
	require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())
}

func TestUniverseFeedShowsPinnedAndForeignPublic(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	owner := env.RegisterOwner("Secret123!")
	stranger := env.RegisterOwner("Secret123!")

	foreignPublic, _ := createPost(t, env, stranger, map[string]any{"type": "status", "visibility": "public", "body": "elsewhere"})
	createPost(t, env, stranger, map[string]any{"type": "status", "visibility": "friends", "body": "private elsewhere"})
	pinnedID, _ := createPost(t, env, owner, map[string]any{
		"type":         "invitation",
		"visibility":   "friends",
		"body":         "pinned",
		"pinned_until": time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
	})

	resp := env.Request(http.MethodGet, "/api/feed", nil, owner.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var page pagePayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &page)
	require.ElementsMatch(t, []string{pinnedID, foreignPublic}, postIDs(page.Posts))

	resp = env.Request(http.MethodGet, "/api/worlds/"+owner.Handle+"/posts", nil, owner.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &page)
	require.Equal(t, []string{pinnedID}, postIDs(page.Pinned))
}

func TestPostEngagement(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	owner := env.RegisterOwner("Secret123!")
	friend := env.CreateFriend(owner, map[string]any{"name": "Juniper"})
	postID, _ := createPost(t, env, owner, map[string]any{"type": "question", "visibility": "friends", "body": "how are you?"})

	resp := env.FriendRequest(http.MethodPost, "/api/posts/"+postID+"/seen", nil, friend.AccessToken)
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())

	for i := 0; i < 2; i++ {
		resp = env.FriendRequest(http.MethodPost, "/api/posts/"+postID+"/reactions", map[string]string{"emoji": "💛"}, friend.AccessToken)
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	}

	resp = env.FriendRequest(http.MethodPost, "/api/posts/"+postID+"/replies", map[string]string{"body": "doing well"}, friend.AccessToken)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = env.FriendRequest(http.MethodGet, "/api/posts/"+postID, nil, friend.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var post postPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &post)
	require.True(t, post.Seen)
	require.True(t, post.Replied)
	require.Equal(t, 1, post.RepliersCount)
	require.Equal(t, 1, post.ReactionCount)
	require.Equal(t, []string{"💛"}, post.MyReactions)

	resp = env.FriendRequest(http.MethodDelete, "/api/posts/"+postID+"/reactions/"+url.PathEscape("💛"), nil, friend.AccessToken)
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())

	// The reply notified the owner.
	resp = env.Request(http.MethodGet, "/api/notifications", nil, owner.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var notifications []struct {
		Noticeable struct {
			Type string `json:"type"`
		} `json:"noticeable"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &notifications)
	require.Len(t, notifications, 1)
	require.Equal(t, "Reply", notifications[0].Noticeable.Type)

	resp = env.Request(http.MethodPost, "/api/posts/"+postID+"/seen", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestPostOwnerOperations(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)
	owner := env.RegisterOwner("Secret123!")
	intruder := env.RegisterOwner("Secret123!")
	friend := env.CreateFriend(owner, map[string]any{"name": "Fern"})

	postID, notified := createPost(t, env, owner, map[string]any{"type": "status", "visibility": "friends", "body": "draft"})
	require.Empty(t, notified)

	resp := env.Request(http.MethodPatch, "/api/posts/"+postID, map[string]any{"body": "final"}, owner.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPatch, "/api/posts/"+postID, map[string]any{"body": "hijack"}, intruder.AccessToken)
	require.Equal(t, http.StatusNotFound, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodPost, "/api/posts/"+postID+"/notify", map[string]any{"notify_all": true}, owner.AccessToken)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var result struct {
		Notified []string `json:"notified_friend_ids"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &result)
	require.Equal(t, []string{friend.ID}, result.Notified)

	resp = env.Request(http.MethodPost, "/api/posts", map[string]any{"type": "limerick", "visibility": "public"}, owner.AccessToken)
	require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())

	resp = env.FriendRequest(http.MethodPost, "/api/posts", map[string]any{"type": "status", "visibility": "public"}, friend.AccessToken)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = env.Request(http.MethodDelete, "/api/posts/"+postID, nil, owner.AccessToken)
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodGet, "/api/posts/"+postID, nil, owner.AccessToken)
	require.Equal(t, http.StatusNotFound, resp.Code)
}
