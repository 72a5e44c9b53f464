package realtime

import "github.com/charlesng35/smallworld/internal/models"

// Named realtime streams.
const (
	// StreamNotifications carries notification.created events to the recipient.
	StreamNotifications = "notifications"
	// StreamDeliveries carries notification.delivered acknowledgements to the post author.
	StreamDeliveries = "deliveries"
)

// Event names published on the streams.
const (
	EventNotificationCreated   = "notification.created"
	EventNotificationDelivered = "notification.delivered"
)

// Allowed reports whether an identity kind may subscribe to stream. Delivery receipts are for
// owners only.
func Allowed(kind models.IdentityKind, stream string) bool {
	switch normalizeStream(stream) {
	case StreamNotifications:
		return kind == models.IdentityUser || kind == models.IdentityFriend
	case StreamDeliveries:
		return kind == models.IdentityUser
	default:
		return false
	}
}
