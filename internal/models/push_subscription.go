package models

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gorm.io/gorm"
)

// PushSubscription is a browser push endpoint. Endpoints are globally unique.
type PushSubscription struct {
	BaseModel

	Endpoint             string `gorm:"type:varchar(512);uniqueIndex;not null" json:"endpoint"`
	P256dhKey            string `gorm:"column:p256dh_key;type:varchar(255)" json:"p256dh_key"`
	AuthKey              string `gorm:"type:varchar(255)" json:"auth_key"`
	ServiceWorkerVersion int    `gorm:"default:0" json:"service_worker_version"`
}

func (s *PushSubscription) BeforeSave(tx *gorm.DB) error {
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	if s.Endpoint == "" {
		return errors.New("push subscription: endpoint is required")
	}
	return nil
}

// PushRegistration ties a subscription to the identity that owns the device, together with the
// signals used to correlate anonymous registrations. An empty owner means "not yet attributed".
type PushRegistration struct {
	BaseModel

	OwnerType          IdentityKind `gorm:"type:varchar(16);not null;uniqueIndex:idx_push_registrations_owner_subscription,priority:1" json:"owner_type,omitempty"`
	OwnerID            string       `gorm:"type:varchar(36);not null;uniqueIndex:idx_push_registrations_owner_subscription,priority:2" json:"owner_id,omitempty"`
	PushSubscriptionID string       `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_push_registrations_owner_subscription,priority:3" json:"push_subscription_id"`

	DeviceID                    string  `gorm:"type:varchar(128);index" json:"device_id,omitempty"`
	DeviceFingerprint           string  `gorm:"type:varchar(128);index" json:"device_fingerprint,omitempty"`
	DeviceFingerprintConfidence float64 `gorm:"default:0" json:"device_fingerprint_confidence"`

	PushSubscription *PushSubscription `gorm:"foreignKey:PushSubscriptionID" json:"push_subscription,omitempty"`
}

// BeforeSave validates the fingerprint confidence. A registration without a fingerprint
// carries no confidence.
func (r *PushRegistration) BeforeSave(tx *gorm.DB) error {
	r.DeviceID = strings.TrimSpace(r.DeviceID)
	r.DeviceFingerprint = strings.TrimSpace(r.DeviceFingerprint)
	if r.DeviceFingerprint == "" {
		r.DeviceFingerprintConfidence = 0
		return nil
	}
	if err := ValidateConfidence(r.DeviceFingerprintConfidence); err != nil {
		return fmt.Errorf("push registration: %w", err)
	}
	return nil
}

// Owner returns the attributed identity, or the zero Identity when unattributed.
func (r *PushRegistration) Owner() Identity {
	if r == nil || r.OwnerID == "" {
		return Identity{}
	}
	return Identity{Kind: r.OwnerType, ID: r.OwnerID}
}

// SetOwner attributes the registration to id. The zero Identity clears the owner.
func (r *PushRegistration) SetOwner(id Identity) {
	r.OwnerType = id.Kind
	r.OwnerID = id.ID
}

// Attributed reports whether the registration has an owner.
func (r *PushRegistration) Attributed() bool {
	return r != nil && r.OwnerID != ""
}

// ValidateConfidence accepts fingerprint confidences in (0, 1].
func ValidateConfidence(confidence float64) error {
	if math.IsNaN(confidence) || confidence <= 0 || confidence > 1 {
		return fmt.Errorf("fingerprint confidence must be in (0, 1], got %v", confidence)
	}
	return nil
}
