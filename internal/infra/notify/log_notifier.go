package notify

import (
	"context"

	"github.com/rs/zerolog"

	"course-subscription-service/internal/domain/ports/adapter"
)

// Compile-time checks
var (
	_ adapter.Notifier      = (*LogNotifier)(nil)
	_ adapter.UserDirectory = (*StaticDirectory)(nil)
)

// LogNotifier stands in for the external email service: it records every
// lifecycle event in the log. Production deployments swap in the real
// delivery client behind the same port.
type LogNotifier struct {
	log *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	compLog := logger.With().Str("component", "Notifier").Logger()
	return &LogNotifier{log: &compLog}
}

func (n *LogNotifier) Notify(ctx context.Context, kind adapter.NotificationKind, recipientEmail string, data map[string]any) error {
	n.log.Info().
		Str("kind", string(kind)).
		Str("recipient", recipientEmail).
		Interface("data", data).
		Msg("notification")
	return nil
}

// StaticDirectory resolves user emails from a fixed map; the real user
// service is an external collaborator reached over its own API.
type StaticDirectory struct {
	emails map[string]string
}

func NewStaticDirectory(emails map[string]string) *StaticDirectory {
	if emails == nil {
		emails = make(map[string]string)
	}
	return &StaticDirectory{emails: emails}
}

func (d *StaticDirectory) EmailOf(ctx context.Context, userID string) (string, error) {
	if email, ok := d.emails[userID]; ok {
		return email, nil
	}
	// Fall back to a routable placeholder so notification plumbing keeps
	// working when the directory has no entry.
	return userID + "@students.invalid", nil
}
