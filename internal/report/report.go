// Package report forwards operational errors to an external error tracker.
package report

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kiranshivaraju/filepreview/internal/config"
)

// Reporter records an error with a set of searchable tags.
type Reporter interface {
	Capture(err error, tags map[string]string)
	Flush(timeout time.Duration) bool
}

// Nop discards everything. It is used when no DSN is configured.
type Nop struct{}

func (Nop) Capture(error, map[string]string) {}
func (Nop) Flush(time.Duration) bool         { return true }

// Sentry reports errors to a Sentry project.
type Sentry struct {
	hub *sentry.Hub
}

// New returns a Sentry reporter when cfg carries a DSN and Nop otherwise.
func New(cfg config.SentryConfig, release string) (Reporter, error) {
	if cfg.DSN == "" {
		return Nop{}, nil
	}
	return NewSentry(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     release,
	})
}

// NewSentry creates a reporter with its own client and hub, leaving the
// global sentry hub untouched.
func NewSentry(opts sentry.ClientOptions) (*Sentry, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("sentry client: %w", err)
	}
	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Capture is safe for concurrent use; tags are scoped to this one event.
func (s *Sentry) Capture(err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := s.hub.Clone()
	hub.Scope().SetTags(tags)
	hub.CaptureException(err)
}

// Flush waits for buffered events to be delivered.
func (s *Sentry) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}

var _ Reporter = (*Sentry)(nil)
var _ Reporter = Nop{}
