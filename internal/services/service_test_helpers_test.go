package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/correlation"
	"github.com/charlesng35/smallworld/internal/database/testutil"
	"github.com/charlesng35/smallworld/internal/models"
	"github.com/charlesng35/smallworld/internal/realtime"
)

var baseTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func openServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
}

func seedWorld(t *testing.T, db *gorm.DB, handle string) (models.User, models.World) {
	t.Helper()
	user := models.User{Name: handle, Email: handle + "@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(&user).Error)
	world := models.World{OwnerID: user.ID, Handle: handle, Name: handle}
	require.NoError(t, db.Create(&world).Error)
	return user, world
}

func seedFriend(t *testing.T, db *gorm.DB, worldID, name string, mutate ...func(*models.Friend)) models.Friend {
	t.Helper()
	friend := models.Friend{WorldID: worldID, Name: name, AccessToken: uuid.NewString()}
	for _, fn := range mutate {
		fn(&friend)
	}
	require.NoError(t, db.Create(&friend).Error)
	return friend
}

func seedPost(t *testing.T, db *gorm.DB, world models.World, visibility models.Visibility, at time.Time, mutate ...func(*models.Post)) models.Post {
	t.Helper()
	worldID := world.ID
	post := models.Post{
		BaseModel:  models.BaseModel{CreatedAt: at},
		WorldID:    &worldID,
		AuthorID:   world.OwnerID,
		Type:       models.PostTypeStatus,
		Visibility: visibility,
		Body:       "hello",
	}
	for _, fn := range mutate {
		fn(&post)
	}
	require.NoError(t, db.Create(&post).Error)
	return post
}

func seedDevice(t *testing.T, db *gorm.DB, owner models.Identity, endpoint, deviceID string) models.PushRegistration {
	t.Helper()
	correlator, err := correlation.NewCorrelator(db)
	require.NoError(t, err)
	reg, err := correlator.AttachOrCreate(context.Background(), correlation.AttachInput{
		Endpoint:  endpoint,
		P256dhKey: "p256dh-" + endpoint,
		AuthKey:   "auth-" + endpoint,
		Owner:     owner,
		DeviceID:  deviceID,
	})
	require.NoError(t, err)
	return *reg
}

func phone(number string) func(*models.Friend) {
	return func(f *models.Friend) { f.PhoneNumber = &number }
}

type published struct {
	stream    string
	recipient models.Identity
	message   realtime.Message
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []published
}

func (p *recordingPublisher) Publish(stream string, recipient models.Identity, message realtime.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{stream: stream, recipient: recipient, message: message})
}

func (p *recordingPublisher) events(stream string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, msg := range p.messages {
		if msg.stream == stream {
			out = append(out, msg)
		}
	}
	return out
}

type stubAssociations struct {
	friends map[string][]models.Friend
	err     error
}

func (s stubAssociations) AssociatedFriends(_ context.Context, userID string) ([]models.Friend, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.friends[userID], nil
}

type recordingDispatcher struct {
	calls []dispatchCall
	err   error
}

type dispatchCall struct {
	noticeable models.Noticeable
	recipients []models.Identity
}

func (d *recordingDispatcher) Dispatch(_ context.Context, noticeable models.Noticeable, recipients []models.Identity) ([]models.Notification, error) {
	d.calls = append(d.calls, dispatchCall{noticeable: noticeable, recipients: recipients})
	if d.err != nil {
		return nil, d.err
	}
	return make([]models.Notification, len(recipients)), nil
}

func newNotificationService(t *testing.T, db *gorm.DB, publisher Publisher, opts ...NotificationOption) *NotificationService {
	t.Helper()
	correlator, err := correlation.NewCorrelator(db)
	require.NoError(t, err)
	svc, err := NewNotificationService(db, publisher, correlator, opts...)
	require.NoError(t, err)
	return svc
}
