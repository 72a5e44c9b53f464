package correlation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/database"
	"github.com/charlesng35/smallworld/internal/models"
	apperrors "github.com/charlesng35/smallworld/pkg/errors"
	"github.com/charlesng35/smallworld/pkg/metrics"
)

// AttachInput describes a browser push registration as reported by the client.
type AttachInput struct {
	Endpoint             string
	P256dhKey            string
	AuthKey              string
	ServiceWorkerVersion int

	// Owner is the zero Identity for registrations made before the device is recognised.
	Owner models.Identity

	DeviceID                    string
	DeviceFingerprint           string
	DeviceFingerprintConfidence float64
}

// AttachOrCreate upserts the subscription by endpoint and the registration by
// (owner, subscription). Device signals are last-write-wins. Repeating the call with the same
// input leaves exactly one subscription and one registration.
func (c *Correlator) AttachOrCreate(ctx context.Context, in AttachInput) (*models.PushRegistration, error) {
	ctx = ensureContext(ctx)

	in.Endpoint = strings.TrimSpace(in.Endpoint)
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	in.DeviceFingerprint = strings.TrimSpace(in.DeviceFingerprint)
	if in.Endpoint == "" {
		return nil, apperrors.NewBadRequest("push endpoint is required")
	}
	if !in.Owner.IsZero() && !in.Owner.Valid() {
		return nil, apperrors.NewBadRequest("registration owner is invalid")
	}
	if in.DeviceFingerprint != "" {
		if err := models.ValidateConfidence(in.DeviceFingerprintConfidence); err != nil {
			return nil, apperrors.NewBadRequest(err.Error())
		}
	}

	subscription, err := c.upsertSubscription(ctx, in)
	if err != nil {
		return nil, err
	}

	registration, err := c.upsertRegistration(ctx, subscription.ID, in)
	if err != nil {
		return nil, err
	}
	registration.PushSubscription = subscription
	return registration, nil
}

func (c *Correlator) upsertSubscription(ctx context.Context, in AttachInput) (*models.PushSubscription, error) {
	db := c.db.WithContext(ctx)

	var subscription models.PushSubscription
	err := db.Where("endpoint = ?", in.Endpoint).Take(&subscription).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		subscription = models.PushSubscription{
			Endpoint:             in.Endpoint,
			P256dhKey:            in.P256dhKey,
			AuthKey:              in.AuthKey,
			ServiceWorkerVersion: in.ServiceWorkerVersion,
		}
		createErr := db.Create(&subscription).Error
		if createErr == nil {
			return &subscription, nil
		}
		if !database.IsUniqueViolation(createErr) {
			return nil, fmt.Errorf("correlation: create subscription: %w", createErr)
		}
		// lost a race with a concurrent registration of the same endpoint
		subscription = models.PushSubscription{}
		if err := db.Where("endpoint = ?", in.Endpoint).Take(&subscription).Error; err != nil {
			return nil, fmt.Errorf("correlation: reload subscription: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("correlation: load subscription: %w", err)
	}

	subscription.P256dhKey = in.P256dhKey
	subscription.AuthKey = in.AuthKey
	subscription.ServiceWorkerVersion = in.ServiceWorkerVersion
	if err := db.Save(&subscription).Error; err != nil {
		return nil, fmt.Errorf("correlation: update subscription: %w", err)
	}
	return &subscription, nil
}

func (c *Correlator) upsertRegistration(ctx context.Context, subscriptionID string, in AttachInput) (*models.PushRegistration, error) {
	db := c.db.WithContext(ctx)
	find := func(dest *models.PushRegistration) error {
		return db.Where("owner_type = ? AND owner_id = ? AND push_subscription_id = ?",
			string(in.Owner.Kind), in.Owner.ID, subscriptionID).Take(dest).Error
	}

	var registration models.PushRegistration
	err := find(&registration)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		registration = models.PushRegistration{PushSubscriptionID: subscriptionID}
		registration.SetOwner(in.Owner)
		applySignals(&registration, in)
		createErr := db.Create(&registration).Error
		if createErr == nil {
			return &registration, nil
		}
		if !database.IsUniqueViolation(createErr) {
			return nil, fmt.Errorf("correlation: create registration: %w", createErr)
		}
		registration = models.PushRegistration{}
		if err := find(&registration); err != nil {
			return nil, fmt.Errorf("correlation: reload registration: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("correlation: load registration: %w", err)
	}

	applySignals(&registration, in)
	if err := db.Save(&registration).Error; err != nil {
		return nil, fmt.Errorf("correlation: update registration: %w", err)
	}
	return &registration, nil
}

func applySignals(reg *models.PushRegistration, in AttachInput) {
	reg.DeviceID = in.DeviceID
	reg.DeviceFingerprint = in.DeviceFingerprint
	reg.DeviceFingerprintConfidence = in.DeviceFingerprintConfidence
}

// DeviceRegistrations expands an identity into the registrations a notification should reach:
// every registration the identity owns plus unattributed registrations that correlate with one of
// them. Registrations attributed to anyone else are never included. At most one registration is
// returned per subscription, preferring owned ones.
func (c *Correlator) DeviceRegistrations(ctx context.Context, owner models.Identity) ([]models.PushRegistration, error) {
	ctx = ensureContext(ctx)
	if !owner.Valid() {
		return []models.PushRegistration{}, nil
	}
	db := c.db.WithContext(ctx)

	var owned []models.PushRegistration
	if err := db.Preload("PushSubscription").
		Where("owner_type = ? AND owner_id = ?", string(owner.Kind), owner.ID).
		Order("created_at ASC").Order("id ASC").
		Find(&owned).Error; err != nil {
		return nil, fmt.Errorf("correlation: load owned registrations: %w", err)
	}
	if len(owned) == 0 {
		return []models.PushRegistration{}, nil
	}

	deviceIDs, fingerprints := signalsOf(owned)
	var unattributed []models.PushRegistration
	if len(deviceIDs) > 0 || len(fingerprints) > 0 {
		query := db.Preload("PushSubscription").Where("owner_id = ''")
		query = query.Where(signalClause(db, deviceIDs, fingerprints))
		if err := query.Order("created_at ASC").Order("id ASC").Find(&unattributed).Error; err != nil {
			return nil, fmt.Errorf("correlation: load unattributed registrations: %w", err)
		}
	}

	out := make([]models.PushRegistration, 0, len(owned)+len(unattributed))
	seen := make(map[string]struct{}, len(owned)+len(unattributed))
	for _, reg := range owned {
		if _, dup := seen[reg.PushSubscriptionID]; dup {
			continue
		}
		seen[reg.PushSubscriptionID] = struct{}{}
		out = append(out, reg)
	}
	for _, candidate := range unattributed {
		if _, dup := seen[candidate.PushSubscriptionID]; dup {
			continue
		}
		if !correlatesWithAny(owned, candidate, c.floor) {
			continue
		}
		seen[candidate.PushSubscriptionID] = struct{}{}
		out = append(out, candidate)
		metrics.CorrelationMatches.WithLabelValues("unattributed").Inc()
	}
	return out, nil
}

// AssociatedFriends returns friends of other worlds that the user's own registrations correlate
// with. The user's own world is excluded.
func (c *Correlator) AssociatedFriends(ctx context.Context, userID string) ([]models.Friend, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return []models.Friend{}, nil
	}
	db := c.db.WithContext(ctx)

	var userRegs []models.PushRegistration
	if err := db.Where("owner_type = ? AND owner_id = ?", string(models.IdentityUser), userID).
		Find(&userRegs).Error; err != nil {
		return nil, fmt.Errorf("correlation: load user registrations: %w", err)
	}
	deviceIDs, fingerprints := signalsOf(userRegs)
	if len(deviceIDs) == 0 && len(fingerprints) == 0 {
		return []models.Friend{}, nil
	}

	var friendRegs []models.PushRegistration
	if err := db.Where("owner_type = ?", string(models.IdentityFriend)).
		Where(signalClause(db, deviceIDs, fingerprints)).
		Find(&friendRegs).Error; err != nil {
		return nil, fmt.Errorf("correlation: load friend registrations: %w", err)
	}

	byFriend := make(map[string][]models.PushRegistration)
	for _, reg := range friendRegs {
		byFriend[reg.OwnerID] = append(byFriend[reg.OwnerID], reg)
	}
	ids := make([]string, 0, len(byFriend))
	for friendID, regs := range byFriend {
		if AreAssociated(userRegs, regs, c.floor) {
			ids = append(ids, friendID)
		}
	}
	if len(ids) == 0 {
		return []models.Friend{}, nil
	}

	query := db.Where("id IN ?", ids)
	var world models.World
	err := db.Where("owner_id = ?", userID).Take(&world).Error
	switch {
	case err == nil:
		query = query.Where("world_id <> ?", world.ID)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("correlation: load user world: %w", err)
	}

	var friends []models.Friend
	if err := query.Order("created_at ASC").Order("id ASC").Find(&friends).Error; err != nil {
		return nil, fmt.Errorf("correlation: load associated friends: %w", err)
	}
	return friends, nil
}

func correlatesWithAny(anchors []models.PushRegistration, candidate models.PushRegistration, floor float64) bool {
	for _, anchor := range anchors {
		if sameDevice(anchor, candidate, floor) {
			return true
		}
	}
	return false
}

func signalsOf(regs []models.PushRegistration) (deviceIDs, fingerprints []string) {
	seenDevice := map[string]struct{}{}
	seenPrint := map[string]struct{}{}
	for _, reg := range regs {
		if reg.DeviceID != "" {
			if _, ok := seenDevice[reg.DeviceID]; !ok {
				seenDevice[reg.DeviceID] = struct{}{}
				deviceIDs = append(deviceIDs, reg.DeviceID)
			}
		}
		if reg.DeviceFingerprint != "" {
			if _, ok := seenPrint[reg.DeviceFingerprint]; !ok {
				seenPrint[reg.DeviceFingerprint] = struct{}{}
				fingerprints = append(fingerprints, reg.DeviceFingerprint)
			}
		}
	}
	return deviceIDs, fingerprints
}

// signalClause narrows a candidate query to rows sharing any signal; the confidence gate is
// applied in Go by sameDevice.
func signalClause(db *gorm.DB, deviceIDs, fingerprints []string) *gorm.DB {
	clause := db.Session(&gorm.Session{NewDB: true})
	switch {
	case len(deviceIDs) > 0 && len(fingerprints) > 0:
		return clause.Where("device_id IN ?", deviceIDs).Or("device_fingerprint IN ?", fingerprints)
	case len(deviceIDs) > 0:
		return clause.Where("device_id IN ?", deviceIDs)
	default:
		return clause.Where("device_fingerprint IN ?", fingerprints)
	}
}
