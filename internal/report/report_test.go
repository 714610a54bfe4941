package report_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/kiranshivaraju/filepreview/internal/config"
	"github.com/kiranshivaraju/filepreview/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captured collects events in BeforeSend and drops them so nothing leaves the process.
type captured struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (c *captured) beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func newSentry(t *testing.T) (*report.Sentry, *captured) {
	t.Helper()
	c := &captured{}
	r, err := report.NewSentry(sentry.ClientOptions{
		Dsn:        "https://public@sentry.example.com/1",
		BeforeSend: c.beforeSend,
	})
	require.NoError(t, err)
	return r, c
}

func TestNew_NoDSNIsNop(t *testing.T) {
	r, err := report.New(config.SentryConfig{}, "test")
	require.NoError(t, err)
	assert.IsType(t, report.Nop{}, r)
	assert.True(t, r.Flush(time.Millisecond))
}

func TestNew_InvalidDSN(t *testing.T) {
	_, err := report.New(config.SentryConfig{DSN: "not a dsn"}, "test")
	assert.Error(t, err)
}

func TestSentry_CaptureTagsEvent(t *testing.T) {
	r, c := newSentry(t)

	r.Capture(errors.New("callback unreachable"), map[string]string{"job_id": "abc", "stage": "callback"})

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.events, 1)
	assert.Equal(t, "abc", c.events[0].Tags["job_id"])
	assert.Equal(t, "callback", c.events[0].Tags["stage"])
	require.NotEmpty(t, c.events[0].Exception)
	assert.Equal(t, "callback unreachable", c.events[0].Exception[len(c.events[0].Exception)-1].Value)
}

func TestSentry_TagsDoNotLeakBetweenEvents(t *testing.T) {
	r, c := newSentry(t)

	r.Capture(errors.New("first"), map[string]string{"job_id": "one"})
	r.Capture(errors.New("second"), nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.events, 2)
	_, leaked := c.events[1].Tags["job_id"]
	assert.False(t, leaked)
}

func TestSentry_NilErrorIgnored(t *testing.T) {
	r, c := newSentry(t)
	r.Capture(nil, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.events)
}
