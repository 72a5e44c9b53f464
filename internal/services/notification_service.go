package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/database"
	"github.com/charlesng35/smallworld/internal/models"
	"github.com/charlesng35/smallworld/internal/realtime"
	apperrors "github.com/charlesng35/smallworld/pkg/errors"
	"github.com/charlesng35/smallworld/pkg/logger"
	"github.com/charlesng35/smallworld/pkg/metrics"
)

// Publisher fans realtime events out to connected clients.
type Publisher interface {
	Publish(stream string, recipient models.Identity, message realtime.Message)
}

// RegistrationExpander resolves an identity into the device registrations a push should reach.
type RegistrationExpander interface {
	DeviceRegistrations(ctx context.Context, owner models.Identity) ([]models.PushRegistration, error)
}

// PushDelivery is one device-addressed push handed to the external sender.
type PushDelivery struct {
	NotificationID string            `json:"notification_id"`
	DeliveryToken  string            `json:"delivery_token"`
	Endpoint       string            `json:"endpoint"`
	P256dhKey      string            `json:"p256dh_key"`
	AuthKey        string            `json:"auth_key"`
	Recipient      models.Identity   `json:"recipient"`
	Noticeable     models.Noticeable `json:"noticeable"`
}

// NotificationDTO represents the API-friendly notification payload.
type NotificationDTO struct {
	ID          string            `json:"id"`
	Noticeable  models.Noticeable `json:"noticeable"`
	Recipient   models.Identity   `json:"recipient"`
	PushedAt    *time.Time        `json:"pushed_at,omitempty"`
	DeliveredAt *time.Time        `json:"delivered_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// DeliveryEvent is published to the post author when a recipient's device confirms receipt.
type DeliveryEvent struct {
	NotificationID string            `json:"notification_id"`
	Noticeable     models.Noticeable `json:"noticeable"`
	Recipient      models.Identity   `json:"recipient"`
	DeliveredAt    time.Time         `json:"delivered_at"`
}

// NotificationOption customises a NotificationService.
type NotificationOption func(*NotificationService)

// WithSMSFallback toggles text blasts for push-platform friends without a usable device.
func WithSMSFallback(enabled bool) NotificationOption {
	return func(s *NotificationService) {
		s.smsFallback = enabled
	}
}

// WithNotificationClock overrides the time source.
func WithNotificationClock(now func() time.Time) NotificationOption {
	return func(s *NotificationService) {
		if now != nil {
			s.now = now
		}
	}
}

// NotificationService creates per-recipient notifications and tracks their delivery state.
type NotificationService struct {
	db          *gorm.DB
	publisher   Publisher
	expander    RegistrationExpander
	smsFallback bool
	now         func() time.Time
	log         *zap.Logger
}

// NewNotificationService constructs a NotificationService. publisher may be nil when realtime
// delivery is disabled.
func NewNotificationService(db *gorm.DB, publisher Publisher, expander RegistrationExpander, opts ...NotificationOption) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	if expander == nil {
		return nil, errors.New("notification service: registration expander is required")
	}
	svc := &NotificationService{
		db:          db,
		publisher:   publisher,
		expander:    expander,
		smsFallback: true,
		now:         utcNow,
		log:         logger.WithModule("dispatcher"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Dispatch guarantees exactly one notification per (noticeable, recipient). Only rows created by
// this call produce side effects, so a repeated dispatch never reaches a new channel. Pushes are
// pulled by the external sender through PendingPushes. The zero Identity addresses a broadcast.
func (s *NotificationService) Dispatch(ctx context.Context, noticeable models.Noticeable, recipients []models.Identity) ([]models.Notification, error) {
	ctx = ensureContext(ctx)
	noticeable.Type = strings.TrimSpace(noticeable.Type)
	noticeable.ID = strings.TrimSpace(noticeable.ID)
	if noticeable.Type == "" || noticeable.ID == "" {
		return nil, apperrors.NewBadRequest("noticeable reference is required")
	}

	targets := make([]models.Identity, 0, len(recipients))
	seen := make(map[string]struct{}, len(recipients))
	for _, recipient := range recipients {
		if !recipient.IsZero() && !recipient.Valid() {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("invalid recipient %s", recipient))
		}
		key := recipient.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		targets = append(targets, recipient)
	}

	out := make([]models.Notification, 0, len(targets))
	for _, recipient := range targets {
		notification, created, err := s.findOrCreate(ctx, noticeable, recipient)
		if err != nil {
			metrics.NotificationsDispatched.WithLabelValues("in_app", "error").Inc()
			return nil, err
		}
		if created {
			metrics.NotificationsDispatched.WithLabelValues("in_app", "created").Inc()
			s.publish(realtime.StreamNotifications, recipient, realtime.EventNotificationCreated, mapNotification(*notification))
			if err := s.deliver(ctx, notification); err != nil {
				return nil, err
			}
		} else {
			metrics.NotificationsDispatched.WithLabelValues("in_app", "existing").Inc()
		}
		out = append(out, *notification)
	}
	return out, nil
}

func (s *NotificationService) findOrCreate(ctx context.Context, noticeable models.Noticeable, recipient models.Identity) (*models.Notification, bool, error) {
	db := s.db.WithContext(ctx)
	lookup := func() (*models.Notification, error) {
		var existing models.Notification
		err := db.Where("noticeable_type = ? AND noticeable_id = ? AND recipient_type = ? AND recipient_id = ?",
			noticeable.Type, noticeable.ID, string(recipient.Kind), recipient.ID).
			Take(&existing).Error
		if err != nil {
			return nil, err
		}
		return &existing, nil
	}

	existing, err := lookup()
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("notification service: load notification: %w", err)
	}

	notification := models.Notification{
		NoticeableType: noticeable.Type,
		NoticeableID:   noticeable.ID,
		RecipientType:  recipient.Kind,
		RecipientID:    recipient.ID,
		DeliveryToken:  uuid.NewString(),
	}
	if err := db.Create(&notification).Error; err != nil {
		if !database.IsUniqueViolation(err) {
			return nil, false, fmt.Errorf("notification service: create notification: %w", err)
		}
		existing, lookupErr := lookup()
		if lookupErr != nil {
			return nil, false, fmt.Errorf("notification service: reload notification: %w", lookupErr)
		}
		return existing, false, nil
	}
	return &notification, true, nil
}

// deliver chooses the channel for a freshly created notification. Rows that no device can
// receive are marked skipped so they never sit in the pending push set.
func (s *NotificationService) deliver(ctx context.Context, notification *models.Notification) error {
	recipient := notification.Recipient()
	if !recipient.Valid() {
		return nil
	}

	if recipient.IsFriend() && notification.NoticeableType == models.NoticeablePost {
		var friend models.Friend
		err := s.db.WithContext(ctx).Where("id = ?", recipient.ID).Take(&friend).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn("notification recipient no longer exists", zap.String("friend_id", recipient.ID))
			return s.skipPush(ctx, notification)
		}
		if err != nil {
			return fmt.Errorf("notification service: load friend: %w", err)
		}
		return s.deliverToFriend(ctx, notification, &friend)
	}

	regs, err := s.expander.DeviceRegistrations(ctx, recipient)
	if err != nil {
		return fmt.Errorf("notification service: expand registrations: %w", err)
	}
	return s.holdForPush(ctx, notification, regs)
}

func (s *NotificationService) deliverToFriend(ctx context.Context, notification *models.Notification, friend *models.Friend) error {
	var regs []models.PushRegistration
	if friend.MessagingPlatform != models.MessagingSMS {
		var err error
		regs, err = s.expander.DeviceRegistrations(ctx, friend.Identity())
		if err != nil {
			return fmt.Errorf("notification service: expand registrations: %w", err)
		}
	}

	wantsText := friend.MessagingPlatform == models.MessagingSMS ||
		(len(buildDeliveries(notification, regs)) == 0 && s.smsFallback && friend.SMSFallback)
	if !wantsText {
		return s.holdForPush(ctx, notification, regs)
	}

	if err := s.skipPush(ctx, notification); err != nil {
		return err
	}
	if !friend.HasPhone() {
		metrics.NotificationsDispatched.WithLabelValues("sms", "skipped").Inc()
		s.log.Debug("friend has no phone number for text delivery", zap.String("friend_id", friend.ID))
		return nil
	}
	return s.ensureTextBlast(ctx, notification.NoticeableID, friend)
}

// holdForPush leaves the notification pending when at least one device can receive it.
func (s *NotificationService) holdForPush(ctx context.Context, notification *models.Notification, regs []models.PushRegistration) error {
	if len(buildDeliveries(notification, regs)) > 0 {
		metrics.NotificationsDispatched.WithLabelValues("push", "pending").Inc()
		return nil
	}
	metrics.NotificationsDispatched.WithLabelValues("push", "skipped").Inc()
	return s.skipPush(ctx, notification)
}

func (s *NotificationService) skipPush(ctx context.Context, notification *models.Notification) error {
	now := s.now()
	if err := s.markSkipped(ctx, []string{notification.ID}, now); err != nil {
		return err
	}
	notification.PushSkippedAt = &now
	return nil
}

func (s *NotificationService) markSkipped(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id IN ? AND pushed_at IS NULL AND push_skipped_at IS NULL", ids).
		UpdateColumns(map[string]any{
			"push_skipped_at": now,
			"updated_at":      now,
		}).Error
	if err != nil {
		return fmt.Errorf("notification service: skip push: %w", err)
	}
	return nil
}

func (s *NotificationService) ensureTextBlast(ctx context.Context, postID string, friend *models.Friend) error {
	db := s.db.WithContext(ctx)

	var existing models.TextBlast
	err := db.Where("post_id = ? AND friend_id = ?", postID, friend.ID).Take(&existing).Error
	if err == nil {
		metrics.NotificationsDispatched.WithLabelValues("sms", "existing").Inc()
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("notification service: load text blast: %w", err)
	}

	blast := models.TextBlast{
		PostID:      postID,
		FriendID:    friend.ID,
		PhoneNumber: *friend.PhoneNumber,
	}
	if err := db.Create(&blast).Error; err != nil {
		if database.IsUniqueViolation(err) {
			metrics.NotificationsDispatched.WithLabelValues("sms", "existing").Inc()
			return nil
		}
		metrics.NotificationsDispatched.WithLabelValues("sms", "error").Inc()
		return fmt.Errorf("notification service: create text blast: %w", err)
	}
	metrics.NotificationsDispatched.WithLabelValues("sms", "created").Inc()
	return nil
}

func buildDeliveries(notification *models.Notification, regs []models.PushRegistration) []PushDelivery {
	deliveries := make([]PushDelivery, 0, len(regs))
	for _, reg := range regs {
		if reg.PushSubscription == nil || reg.PushSubscription.Endpoint == "" {
			continue
		}
		deliveries = append(deliveries, PushDelivery{
			NotificationID: notification.ID,
			DeliveryToken:  notification.DeliveryToken,
			Endpoint:       reg.PushSubscription.Endpoint,
			P256dhKey:      reg.PushSubscription.P256dhKey,
			AuthKey:        reg.PushSubscription.AuthKey,
			Recipient:      notification.Recipient(),
			Noticeable:     notification.Noticeable(),
		})
	}
	return deliveries
}

// MarkDelivered records the first delivery acknowledgement for token. Empty, unknown and replayed
// tokens are silent no-ops so the callback never reveals whether a token exists.
func (s *NotificationService) MarkDelivered(ctx context.Context, token string) error {
	ctx = ensureContext(ctx)
	token = strings.TrimSpace(token)
	if token == "" {
		metrics.DeliveryAcks.WithLabelValues("ignored").Inc()
		return nil
	}

	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("delivery_token = ? AND delivered_at IS NULL", token).
		UpdateColumns(map[string]any{
			"delivered_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		metrics.DeliveryAcks.WithLabelValues("error").Inc()
		return fmt.Errorf("notification service: mark delivered: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		metrics.DeliveryAcks.WithLabelValues("ignored").Inc()
		return nil
	}
	metrics.DeliveryAcks.WithLabelValues("acked").Inc()

	s.announceDelivery(ctx, token, now)
	return nil
}

func (s *NotificationService) announceDelivery(ctx context.Context, token string, deliveredAt time.Time) {
	if s.publisher == nil {
		return
	}
	db := s.db.WithContext(ctx)

	var notification models.Notification
	if err := db.Where("delivery_token = ?", token).Take(&notification).Error; err != nil {
		s.log.Warn("reload delivered notification failed", zap.Error(err))
		return
	}
	if notification.NoticeableType != models.NoticeablePost {
		return
	}
	var post models.Post
	if err := db.Select("id", "author_id").Where("id = ?", notification.NoticeableID).Take(&post).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn("load post for delivery event failed", zap.Error(err))
		}
		return
	}

	s.publish(realtime.StreamDeliveries, models.UserIdentity(post.AuthorID), realtime.EventNotificationDelivered, DeliveryEvent{
		NotificationID: notification.ID,
		Noticeable:     notification.Noticeable(),
		Recipient:      notification.Recipient(),
		DeliveredAt:    deliveredAt,
	})
}

// MarkPushed records that the external sender handed the notification to the push service.
// Repeated acknowledgements keep the first timestamp.
func (s *NotificationService) MarkPushed(ctx context.Context, notificationID string) error {
	ctx = ensureContext(ctx)
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return apperrors.ErrNotFound
	}

	now := s.now()
	db := s.db.WithContext(ctx)
	result := db.Model(&models.Notification{}).
		Where("id = ? AND pushed_at IS NULL", notificationID).
		UpdateColumns(map[string]any{
			"pushed_at":  now,
			"updated_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("notification service: mark pushed: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := db.Model(&models.Notification{}).Where("id = ?", notificationID).Count(&count).Error; err != nil {
		return fmt.Errorf("notification service: check notification: %w", err)
	}
	if count == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// PendingPushes lists device deliveries for up to limit notifications that have not been pushed
// yet, oldest first. Rows that turn out to have no reachable device, including friends who prefer
// SMS, are marked skipped on the way so they cannot crowd out newer rows.
func (s *NotificationService) PendingPushes(ctx context.Context, limit int) ([]PushDelivery, error) {
	ctx = ensureContext(ctx)
	limit = clampLimit(limit, defaultListLimit, maxListLimit)
	db := s.db.WithContext(ctx)

	deliveries := make([]PushDelivery, 0, limit)
	pushable := 0
	var after *models.Notification
	for pushable < limit {
		query := db.Where("pushed_at IS NULL AND delivered_at IS NULL AND push_skipped_at IS NULL AND recipient_id <> ''")
		if after != nil {
			query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))",
				after.CreatedAt, after.CreatedAt, after.ID)
		}
		var rows []models.Notification
		if err := query.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("notification service: list pending pushes: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		smsFriends, err := s.smsOnlyFriends(ctx, rows)
		if err != nil {
			return nil, err
		}

		var unreachable []string
		for i := range rows {
			if pushable == limit {
				break
			}
			recipient := rows[i].Recipient()
			if _, sms := smsFriends[recipient.ID]; sms && recipient.IsFriend() {
				unreachable = append(unreachable, rows[i].ID)
				continue
			}
			regs, err := s.expander.DeviceRegistrations(ctx, recipient)
			if err != nil {
				return nil, fmt.Errorf("notification service: expand registrations: %w", err)
			}
			batch := buildDeliveries(&rows[i], regs)
			if len(batch) == 0 {
				unreachable = append(unreachable, rows[i].ID)
				continue
			}
			deliveries = append(deliveries, batch...)
			pushable++
		}
		if err := s.markSkipped(ctx, unreachable, s.now()); err != nil {
			return nil, err
		}
		if len(unreachable) > 0 {
			s.log.Debug("skipped notifications without reachable devices", zap.Int("count", len(unreachable)))
		}

		if len(rows) < limit {
			break
		}
		after = &rows[len(rows)-1]
	}
	return deliveries, nil
}

func (s *NotificationService) smsOnlyFriends(ctx context.Context, rows []models.Notification) (map[string]struct{}, error) {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.RecipientType == models.IdentityFriend {
			ids = append(ids, row.RecipientID)
		}
	}
	out := make(map[string]struct{})
	if len(ids) == 0 {
		return out, nil
	}
	var friendIDs []string
	if err := s.db.WithContext(ctx).Model(&models.Friend{}).
		Where("id IN ? AND messaging_platform = ?", ids, string(models.MessagingSMS)).
		Pluck("id", &friendIDs).Error; err != nil {
		return nil, fmt.Errorf("notification service: load friend platforms: %w", err)
	}
	for _, id := range friendIDs {
		out[id] = struct{}{}
	}
	return out, nil
}

// ListForRecipient returns the recipient's notifications, newest first.
func (s *NotificationService) ListForRecipient(ctx context.Context, recipient models.Identity, limit int) ([]NotificationDTO, error) {
	ctx = ensureContext(ctx)
	if !recipient.Valid() {
		return nil, apperrors.ErrUnauthorized
	}
	limit = clampLimit(limit, defaultListLimit, maxListLimit)

	var rows []models.Notification
	if err := s.db.WithContext(ctx).
		Where("recipient_type = ? AND recipient_id = ?", string(recipient.Kind), recipient.ID).
		Order("created_at DESC").Order("id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list notifications: %w", err)
	}

	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items, nil
}

func (s *NotificationService) publish(stream string, recipient models.Identity, event string, data any) {
	if s.publisher == nil || !recipient.Valid() {
		return
	}
	s.publisher.Publish(stream, recipient, realtime.Message{
		Stream: stream,
		Event:  event,
		Data:   data,
	})
}

func mapNotification(row models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:          row.ID,
		Noticeable:  row.Noticeable(),
		Recipient:   row.Recipient(),
		PushedAt:    row.PushedAt,
		DeliveredAt: row.DeliveredAt,
		CreatedAt:   row.CreatedAt,
	}
}
