package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/smallworld/internal/models"
	"github.com/charlesng35/smallworld/internal/realtime"
	apperrors "github.com/charlesng35/smallworld/pkg/errors"
)

func TestDispatchCreatesOneNotificationPerRecipient(t *testing.T) {
	db := openServiceDB(t)
	_, world := seedWorld(t, db, "sunny")
	ana := seedFriend(t, db, world.ID, "Ana")
	ben := seedFriend(t, db, world.ID, "Ben")
	post := seedPost(t, db, world, models.VisibilityFriends, baseTime)
	seedDevice(t, db, ana.Identity(), "https://push.example/ana", "dev-ana")

	publisher := &recordingPublisher{}
	svc := newNotificationService(t, db, publisher)

	ctx := context.Background()
	recipients := []models.Identity{ana.Identity(), ben.Identity(), ana.Identity()}
	first, err := svc.Dispatch(ctx, models.PostNoticeable(post.ID), recipients)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := svc.Dispatch(ctx, models.PostNoticeable(post.ID), recipients)
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.Equal(t, first[0].ID, second[0].ID)
	require.Equal(t, first[0].DeliveryToken, second[0].DeliveryToken)

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	require.EqualValues(t, 2, count)

	require.Len(t, publisher.events(realtime.StreamNotifications), 2)

	require.Nil(t, first[0].PushSkippedAt)
	require.NotNil(t, first[1].PushSkippedAt)

	pending, err := svc.PendingPushes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "https://push.example/ana", pending[0].Endpoint)
	require.Equal(t, first[0].ID, pending[0].NotificationID)
}

func TestDispatchReusesRowCreatedConcurrently(t *testing.T) {
	db := openServiceDB(t)
	_, world := seedWorld(t, db, "racy")
	friend := seedFriend(t, db, world.ID, "Ana")
	post := seedPost(t, db, world, models.VisibilityFriends, baseTime)

	existing := models.Notification{
		NoticeableType: models.NoticeablePost,
		NoticeableID:   post.ID,
		RecipientType:  models.IdentityFriend,
		RecipientID:    friend.ID,
		DeliveryToken:  "token-from-winner",
	}
	require.NoError(t, db.Create(&existing).Error)

	publisher := &recordingPublisher{}
	svc := newNotificationService(t, db, publisher)
	out, err := svc.Dispatch(context.Background(), models.PostNoticeable(post.ID), []models.Identity{friend.Identity()})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, existing.ID, out[0].ID)
	require.Empty(t, publisher.events(realtime.StreamNotifications))
}

func TestDispatchRejectsInvalidInput(t *testing.T) {
	db := openServiceDB(t)
	svc := newNotificationService(t, db, nil)
	ctx := context.Background()

	_, err := svc.Dispatch(ctx, models.Noticeable{}, nil)
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = svc.Dispatch(ctx, models.PostNoticeable("p1"), []models.Identity{{Kind: "Robot", ID: "r1"}})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestDispatchBroadcastHasNoDeliverySideEffects(t *testing.T) {
	db := openServiceDB(t)
	svc := newNotificationService(t, db, nil)

	out, err := svc.Dispatch(context.Background(), models.PostNoticeable("p1"), []models.Identity{{}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.True(t, out[0].Recipient().IsZero())

	pending, err := svc.PendingPushes(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	var blasts int64
	require.NoError(t, db.Model(&models.TextBlast{}).Count(&blasts).Error)
	require.Zero(t, blasts)
}

func TestDispatchTextBlastForSMSFriends(t *testing.T) {
	db := openServiceDB(t)
	_, world := seedWorld(t, db, "texty")
	smsFriend := seedFriend(t, db, world.ID, "Sam", phone("+15550001"), func(f *models.Friend) {
		f.MessagingPlatform = models.MessagingSMS
	})
	post := seedPost(t, db, world, models.VisibilityFriends, baseTime)
	seedDevice(t, db, smsFriend.Identity(), "https://push.example/sam", "dev-sam")

	svc := newNotificationService(t, db, nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := svc.Dispatch(ctx, models.PostNoticeable(post.ID), []models.Identity{smsFriend.Identity()})
		require.NoError(t, err)
	}

	var blasts []models.TextBlast
	require.NoError(t, db.Find(&blasts).Error)
	require.Len(t, blasts, 1)
	require.Equal(t, "+15550001", blasts[0].PhoneNumber)
	require.Equal(t, post.ID, blasts[0].PostID)

	pending, err := svc.PendingPushes(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestDispatchSMSFallbackWithoutDevices(t *testing.T) {
	db := openServiceDB(t)
	_, world := seedWorld(t, db, "fallback")
	optedIn := seedFriend(t, db, world.ID, "Ona", phone("+15550002"), func(f *models.Friend) { f.SMSFallback = true })
	optedOut := seedFriend(t, db, world.ID, "Oto", phone("+15550003"))
	noPhone := seedFriend(t, db, world.ID, "Nel", func(f *models.Friend) { f.SMSFallback = true })
	post := seedPost(t, db, world, models.VisibilityFriends, baseTime)

	svc := newNotificationService(t, db, nil)
	_, err := svc.Dispatch(context.Background(), models.PostNoticeable(post.ID),
		[]models.Identity{optedIn.Identity(), optedOut.Identity(), noPhone.Identity()})
	require.NoError(t, err)

	var blasts []models.TextBlast
	require.NoError(t, db.Find(&blasts).Error)
	require.Len(t, blasts, 1)
	require.Equal(t, optedIn.ID, blasts[0].FriendID)

	disabled := newNotificationService(t, db, nil, WithSMSFallback(false))
	other := seedPost(t, db, world, models.VisibilityFriends, baseTime.Add(time.Minute))
	_, err = disabled.Dispatch(context.Background(), models.PostNoticeable(other.ID), []models.Identity{optedIn.Identity()})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.TextBlast{}).Where("post_id = ?", other.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestDispatchRepeatDoesNotFallBackToText(t *testing.T) {
	db := openServiceDB(t)
	_, world := seedWorld(t, db, "repeat")
	friend := seedFriend(t, db, world.ID, "Ana", phone("+15550004"), func(f *models.Friend) { f.SMSFallback = true })
	post := seedPost(t, db, world, models.VisibilityFriends, baseTime)
	seedDevice(t, db, friend.Identity(), "https://push.example/ana", "dev-ana")

	svc := newNotificationService(t, db, nil)
	ctx := context.Background()
	recipients := []models.Identity{friend.Identity()}

	first, err := svc.Dispatch(ctx, models.PostNoticeable(post.ID), recipients)
	require.NoError(t, err)
	require.Nil(t, first[0].PushSkippedAt)

	require.NoError(t, db.Where("owner_type = ? AND owner_id = ?", string(models.IdentityFriend), friend.ID).
		Delete(&models.PushRegistration{}).Error)

	second, err := svc.Dispatch(ctx, models.PostNoticeable(post.ID), recipients)
	require.NoError(t, err)
	require.Equal(t, first[0].ID, second[0].ID)

	var blasts int64
	require.NoError(t, db.Model(&models.TextBlast{}).Count(&blasts).Error)
	require.Zero(t, blasts)
}

func TestPendingPushesPagesPastUnreachableRows(t *testing.T) {
	db := openServiceDB(t)
	_, world := seedWorld(t, db, "crowded")
	post := seedPost(t, db, world, models.VisibilityFriends, baseTime)

	const limit = 10
	stranded := make([]string, 0, limit+5)
	for i := 0; i < limit+5; i++ {
		friend := seedFriend(t, db, world.ID, fmt.Sprintf("Quiet %02d", i))
		row := models.Notification{
			BaseModel:      models.BaseModel{CreatedAt: baseTime.Add(time.Duration(i) * time.Second)},
			NoticeableType: models.NoticeablePost,
			NoticeableID:   post.ID,
			RecipientType:  models.IdentityFriend,
			RecipientID:    friend.ID,
			DeliveryToken:  uuid.NewString(),
		}
		require.NoError(t, db.Create(&row).Error)
		stranded = append(stranded, row.ID)
	}

	ana := seedFriend(t, db, world.ID, "Ana")
	seedDevice(t, db, ana.Identity(), "https://push.example/ana", "dev-ana")
	deliverable := models.Notification{
		BaseModel:      models.BaseModel{CreatedAt: baseTime.Add(time.Hour)},
		NoticeableType: models.NoticeablePost,
		NoticeableID:   post.ID,
		RecipientType:  models.IdentityFriend,
		RecipientID:    ana.ID,
		DeliveryToken:  uuid.NewString(),
	}
	require.NoError(t, db.Create(&deliverable).Error)

	svc := newNotificationService(t, db, nil)
	ctx := context.Background()

	pending, err := svc.PendingPushes(ctx, limit)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, deliverable.ID, pending[0].NotificationID)
	require.Equal(t, ana.Identity(), pending[0].Recipient)

	var skipped int64
	require.NoError(t, db.Model(&models.Notification{}).
		Where("id IN ? AND push_skipped_at IS NOT NULL", stranded).
		Count(&skipped).Error)
	require.EqualValues(t, len(stranded), skipped)

	require.NoError(t, svc.MarkPushed(ctx, deliverable.ID))
	pending, err = svc.PendingPushes(ctx, limit)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestPendingPushesHonoursLimitAcrossRecipients(t *testing.T) {
	db := openServiceDB(t)
	_, world := seedWorld(t, db, "busy")
	post := seedPost(t, db, world, models.VisibilityFriends, baseTime)

	svc := newNotificationService(t, db, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		friend := seedFriend(t, db, world.ID, fmt.Sprintf("Loud %d", i))
		seedDevice(t, db, friend.Identity(), fmt.Sprintf("https://push.example/loud-%d", i), fmt.Sprintf("dev-%d", i))
		_, err := svc.Dispatch(ctx, models.PostNoticeable(post.ID), []models.Identity{friend.Identity()})
		require.NoError(t, err)
	}

	pending, err := svc.PendingPushes(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

func TestMarkDeliveredTransitionsOnce(t *testing.T) {
	db := openServiceDB(t)
	owner, world := seedWorld(t, db, "acks")
	friend := seedFriend(t, db, world.ID, "Ana")
	post := seedPost(t, db, world, models.VisibilityFriends, baseTime)

	current := baseTime.Add(time.Hour)
	publisher := &recordingPublisher{}
	svc := newNotificationService(t, db, publisher, WithNotificationClock(func() time.Time { return current }))

	ctx := context.Background()
	out, err := svc.Dispatch(ctx, models.PostNoticeable(post.ID), []models.Identity{friend.Identity()})
	require.NoError(t, err)
	token := out[0].DeliveryToken

	require.NoError(t, svc.MarkDelivered(ctx, token))
	current = current.Add(time.Hour)
	require.NoError(t, svc.MarkDelivered(ctx, token))

	var stored models.Notification
	require.NoError(t, db.Where("id = ?", out[0].ID).Take(&stored).Error)
	require.NotNil(t, stored.DeliveredAt)
	require.True(t, stored.DeliveredAt.Equal(baseTime.Add(time.Hour)))

	events := publisher.events(realtime.StreamDeliveries)
	require.Len(t, events, 1)
	require.Equal(t, models.UserIdentity(owner.ID), events[0].recipient)
	require.Equal(t, realtime.EventNotificationDelivered, events[0].message.Event)
}

func TestMarkDeliveredIgnoresUnknownTokens(t *testing.T) {
	db := openServiceDB(t)
	svc := newNotificationService(t, db, nil)

	require.NoError(t, svc.MarkDelivered(context.Background(), ""))
	require.NoError(t, svc.MarkDelivered(context.Background(), "   "))
	require.NoError(t, svc.MarkDelivered(context.Background(), "does-not-exist"))
}

func TestMarkPushed(t *testing.T) {
	db := openServiceDB(t)
	_, world := seedWorld(t, db, "pushy")
	friend := seedFriend(t, db, world.ID, "Ana")
	post := seedPost(t, db, world, models.VisibilityFriends, baseTime)
	seedDevice(t, db, friend.Identity(), "https://push.example/ana", "dev-ana")

	current := baseTime
	svc := newNotificationService(t, db, nil, WithNotificationClock(func() time.Time { return current }))
	ctx := context.Background()

	out, err := svc.Dispatch(ctx, models.PostNoticeable(post.ID), []models.Identity{friend.Identity()})
	require.NoError(t, err)

	require.ErrorIs(t, svc.MarkPushed(ctx, "missing"), apperrors.ErrNotFound)
	require.NoError(t, svc.MarkPushed(ctx, out[0].ID))
	current = current.Add(time.Hour)
	require.NoError(t, svc.MarkPushed(ctx, out[0].ID))

	var stored models.Notification
	require.NoError(t, db.Where("id = ?", out[0].ID).Take(&stored).Error)
	require.True(t, stored.PushedAt.Equal(baseTime))

	pending, err := svc.PendingPushes(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestPendingPushesSkipsSMSFriends(t *testing.T) {
	db := openServiceDB(t)
	_, world := seedWorld(t, db, "mixed")
	pushFriend := seedFriend(t, db, world.ID, "Ana")
	smsFriend := seedFriend(t, db, world.ID, "Sam", phone("+15550009"), func(f *models.Friend) {
		f.MessagingPlatform = models.MessagingSMS
	})
	post := seedPost(t, db, world, models.VisibilityFriends, baseTime)
	seedDevice(t, db, pushFriend.Identity(), "https://push.example/ana", "dev-ana")
	seedDevice(t, db, smsFriend.Identity(), "https://push.example/sam", "dev-sam")

	svc := newNotificationService(t, db, nil)
	_, err := svc.Dispatch(context.Background(), models.PostNoticeable(post.ID),
		[]models.Identity{pushFriend.Identity(), smsFriend.Identity()})
	require.NoError(t, err)

	pending, err := svc.PendingPushes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, pushFriend.Identity(), pending[0].Recipient)
	require.NotEmpty(t, pending[0].DeliveryToken)
}

func TestListForRecipient(t *testing.T) {
	db := openServiceDB(t)
	_, world := seedWorld(t, db, "lists")
	ana := seedFriend(t, db, world.ID, "Ana")
	ben := seedFriend(t, db, world.ID, "Ben")
	first := seedPost(t, db, world, models.VisibilityFriends, baseTime)
	second := seedPost(t, db, world, models.VisibilityFriends, baseTime.Add(time.Minute))

	svc := newNotificationService(t, db, nil)
	ctx := context.Background()
	_, err := svc.Dispatch(ctx, models.PostNoticeable(first.ID), []models.Identity{ana.Identity(), ben.Identity()})
	require.NoError(t, err)
	_, err = svc.Dispatch(ctx, models.PostNoticeable(second.ID), []models.Identity{ana.Identity()})
	require.NoError(t, err)

	items, err := svc.ListForRecipient(ctx, ana.Identity(), 0)
	require.NoError(t, err)
	require.Len(t, items, 2)

	_, err = svc.ListForRecipient(ctx, models.Identity{}, 10)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestTextBlastTransportContract(t *testing.T) {
	db := openServiceDB(t)
	_, world := seedWorld(t, db, "blasts")
	friend := seedFriend(t, db, world.ID, "Sam", phone("+15550010"), func(f *models.Friend) {
		f.MessagingPlatform = models.MessagingSMS
	})
	post := seedPost(t, db, world, models.VisibilityFriends, baseTime)

	current := baseTime
	svc := newNotificationService(t, db, nil, WithNotificationClock(func() time.Time { return current }))
	ctx := context.Background()
	_, err := svc.Dispatch(ctx, models.PostNoticeable(post.ID), []models.Identity{friend.Identity()})
	require.NoError(t, err)

	pending, err := svc.PendingTextBlasts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, svc.MarkTextBlastSent(ctx, pending[0].ID))
	current = current.Add(time.Hour)
	require.NoError(t, svc.MarkTextBlastSent(ctx, pending[0].ID))
	require.ErrorIs(t, svc.MarkTextBlastSent(ctx, "missing"), apperrors.ErrNotFound)

	var stored models.TextBlast
	require.NoError(t, db.Where("id = ?", pending[0].ID).Take(&stored).Error)
	require.True(t, stored.SentAt.Equal(baseTime))

	pending, err = svc.PendingTextBlasts(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}
