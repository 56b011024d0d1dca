package adapter

import "context"

type NotificationKind string

const (
	NotificationActivated NotificationKind = "activated"
	NotificationCancelled NotificationKind = "cancelled"
	NotificationExpiring  NotificationKind = "expiring"
	NotificationExpired   NotificationKind = "expired"
)

// Notifier sends lifecycle emails. Delivery failures surface as
// domain.ErrDeliveryFailed and are logged by callers, never propagated as
// request failures.
type Notifier interface {
	Notify(ctx context.Context, kind NotificationKind, recipientEmail string, data map[string]any) error
}

// UserDirectory resolves student contact details. The user service itself is
// an external collaborator.
type UserDirectory interface {
	EmailOf(ctx context.Context, userID string) (string, error)
}
