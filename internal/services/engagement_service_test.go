package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/smallworld/internal/audience"
	"github.com/charlesng35/smallworld/internal/models"
	apperrors "github.com/charlesng35/smallworld/pkg/errors"
)

func TestEngagementIsIdempotent(t *testing.T) {
	db := openServiceDB(t)
	_, world := seedWorld(t, db, "engaged")
	ana := seedFriend(t, db, world.ID, "Ana")
	post := seedPost(t, db, world, models.VisibilityFriends, baseTime)
	svc, err := NewEngagementService(db, nil)
	require.NoError(t, err)
	ctx := context.Background()
	viewer := audience.AuthenticatedFriend(&ana)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.MarkSeen(ctx, viewer, post.ID))
	}
	first, err := svc.React(ctx, viewer, post.ID, "🔥")
	require.NoError(t, err)
	second, err := svc.React(ctx, viewer, post.ID, " 🔥 ")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	var views, reactions int64
	require.NoError(t, db.Model(&models.PostView{}).Count(&views).Error)
	require.NoError(t, db.Model(&models.Reaction{}).Count(&reactions).Error)
	require.EqualValues(t, 1, views)
	require.EqualValues(t, 1, reactions)

	require.NoError(t, svc.Unreact(ctx, viewer, post.ID, "🔥"))
	require.NoError(t, db.Model(&models.Reaction{}).Count(&reactions).Error)
	require.Zero(t, reactions)
}

func TestEngagementRequiresVisibility(t *testing.T) {
	db := openServiceDB(t)
	_, world := seedWorld(t, db, "guarded")
	ana := seedFriend(t, db, world.ID, "Ana")
	secret := seedPost(t, db, world, models.VisibilitySecret, baseTime)
	public := seedPost(t, db, world, models.VisibilityPublic, baseTime)
	svc, err := NewEngagementService(db, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorIs(t, svc.MarkSeen(ctx, audience.Anonymous(), public.ID), apperrors.ErrUnauthorized)
	require.ErrorIs(t, svc.MarkSeen(ctx, audience.AuthenticatedFriend(&ana), secret.ID), apperrors.ErrNotFound)
	_, err = svc.React(ctx, audience.AuthenticatedFriend(&ana), public.ID, "")
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
	_, err = svc.Reply(ctx, audience.AuthenticatedFriend(&ana), public.ID, "   ")
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestReplyNotifiesAuthor(t *testing.T) {
	db := openServiceDB(t)
	owner, world := seedWorld(t, db, "replies")
	ana := seedFriend(t, db, world.ID, "Ana")
	post := seedPost(t, db, world, models.VisibilityFriends, baseTime)
	dispatcher := &recordingDispatcher{}
	svc, err := NewEngagementService(db, dispatcher)
	require.NoError(t, err)
	ctx := context.Background()

	reply, err := svc.Reply(ctx, audience.AuthenticatedFriend(&ana), post.ID, "see you there")
	require.NoError(t, err)
	require.Equal(t, models.IdentityFriend, reply.AuthorType)

	_, err = svc.Reply(ctx, audience.Owner(owner.ID, world.ID), post.ID, "great")
	require.NoError(t, err)

	require.Len(t, dispatcher.calls, 1)
	require.Equal(t, models.ReplyNoticeable(reply.ID), dispatcher.calls[0].noticeable)
	require.Equal(t, []models.Identity{models.UserIdentity(owner.ID)}, dispatcher.calls[0].recipients)
}
