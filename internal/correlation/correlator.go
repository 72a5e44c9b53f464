package correlation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/models"
	"github.com/charlesng35/smallworld/pkg/metrics"
)

// DefaultConfidenceFloor is the minimum stored fingerprint confidence that counts as a match.
const DefaultConfidenceFloor = 0.3

// Option customises a Correlator.
type Option func(*Correlator)

// WithConfidenceFloor overrides the fingerprint confidence floor. Values outside (0, 1] are ignored.
func WithConfidenceFloor(floor float64) Option {
	return func(c *Correlator) {
		if math.IsNaN(floor) || floor <= 0 || floor > 1 {
			return
		}
		c.floor = floor
	}
}

// Correlator links anonymous push registrations to known identities using device ids (strong
// signal) and browser fingerprints (weak signal, gated by confidence).
type Correlator struct {
	db    *gorm.DB
	floor float64
}

// NewCorrelator constructs a Correlator backed by db.
func NewCorrelator(db *gorm.DB, opts ...Option) (*Correlator, error) {
	if db == nil {
		return nil, errors.New("correlation: db must not be nil")
	}
	c := &Correlator{db: db, floor: DefaultConfidenceFloor}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Floor returns the active confidence floor.
func (c *Correlator) Floor() float64 {
	return c.floor
}

// ResolveOwnerCandidates lists identities whose attributed registrations share the device id, or
// share the fingerprint with a stored confidence at or above the floor. Device id matches come
// first, then newest registrations. Empty signals never match.
func (c *Correlator) ResolveOwnerCandidates(ctx context.Context, deviceID, fingerprint string) ([]models.Identity, error) {
	ctx = ensureContext(ctx)
	deviceID = strings.TrimSpace(deviceID)
	fingerprint = strings.TrimSpace(fingerprint)
	if deviceID == "" && fingerprint == "" {
		return []models.Identity{}, nil
	}

	query := c.db.WithContext(ctx).Model(&models.PushRegistration{}).Where("owner_id <> ''")
	switch {
	case deviceID != "" && fingerprint != "":
		query = query.Where("device_id = ? OR (device_fingerprint = ? AND device_fingerprint_confidence >= ?)", deviceID, fingerprint, c.floor)
	case deviceID != "":
		query = query.Where("device_id = ?", deviceID)
	default:
		query = query.Where("device_fingerprint = ? AND device_fingerprint_confidence >= ?", fingerprint, c.floor)
	}

	var regs []models.PushRegistration
	if err := query.Order("created_at DESC").Order("id ASC").Find(&regs).Error; err != nil {
		return nil, fmt.Errorf("correlation: resolve candidates: %w", err)
	}

	sort.SliceStable(regs, func(i, j int) bool {
		return deviceMatch(regs[i], deviceID) && !deviceMatch(regs[j], deviceID)
	})

	out := make([]models.Identity, 0, len(regs))
	seen := make(map[string]struct{}, len(regs))
	for _, reg := range regs {
		owner := reg.Owner()
		if _, dup := seen[owner.Key()]; dup {
			continue
		}
		seen[owner.Key()] = struct{}{}
		out = append(out, owner)
		if deviceMatch(reg, deviceID) {
			metrics.CorrelationMatches.WithLabelValues("device").Inc()
		} else {
			metrics.CorrelationMatches.WithLabelValues("fingerprint").Inc()
		}
	}
	return out, nil
}

// AreAssociated applies the package pair rule with the correlator's floor.
func (c *Correlator) AreAssociated(userRegs, friendRegs []models.PushRegistration) bool {
	return AreAssociated(userRegs, friendRegs, c.floor)
}

// AreAssociated reports whether any user registration and any friend registration describe the
// same device: equal non-empty device ids, or equal non-empty fingerprints where the friend side's
// confidence reaches floor. Only the friend side's confidence is consulted.
func AreAssociated(userRegs, friendRegs []models.PushRegistration, floor float64) bool {
	for _, u := range userRegs {
		for _, f := range friendRegs {
			if sameDevice(u, f, floor) {
				return true
			}
		}
	}
	return false
}

// sameDevice gates the fingerprint signal on candidate's confidence.
func sameDevice(anchor, candidate models.PushRegistration, floor float64) bool {
	if anchor.DeviceID != "" && anchor.DeviceID == candidate.DeviceID {
		return true
	}
	return anchor.DeviceFingerprint != "" &&
		anchor.DeviceFingerprint == candidate.DeviceFingerprint &&
		candidate.DeviceFingerprintConfidence >= floor
}

func deviceMatch(reg models.PushRegistration, deviceID string) bool {
	return deviceID != "" && reg.DeviceID == deviceID
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
