// Package notify reports terminal job outcomes to the caller's callback URL.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/filepreview/internal/config"
	"github.com/kiranshivaraju/filepreview/internal/queue"
	"github.com/kiranshivaraju/filepreview/internal/report"
	"github.com/kiranshivaraju/filepreview/pkg/models"
)

// ErrCallbackStatus is returned when the callback endpoint answers with a non-2xx status.
var ErrCallbackStatus = errors.New("callback returned non-success status")

type successBody struct {
	Thumbnail string `json:"thumbnail"`
}

type failureBody struct {
	Error string `json:"error"`
}

// Notifier implements queue.Hooks. Delivery is best effort: failures are
// logged and reported, never retried.
type Notifier struct {
	client        *http.Client
	successMethod string
	reporter      report.Reporter
	logger        *slog.Logger
}

// New creates a Notifier from the callback configuration.
func New(cfg config.CallbackConfig, reporter report.Reporter, logger *slog.Logger) *Notifier {
	if reporter == nil {
		reporter = report.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	method := cfg.SuccessMethod
	if method == "" {
		method = http.MethodPatch
	}
	return &Notifier{
		client:        &http.Client{Timeout: cfg.Timeout},
		successMethod: method,
		reporter:      reporter,
		logger:        logger,
	}
}

// OnComplete sends {"thumbnail": result}.
func (n *Notifier) OnComplete(ctx context.Context, job *models.Job, result string) {
	n.deliver(ctx, job, n.successMethod, successBody{Thumbnail: result})
}

// OnFailed reports the terminal failure and sends {"error": message} with POST.
func (n *Notifier) OnFailed(ctx context.Context, job *models.Job, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
		n.reporter.Capture(err, map[string]string{
			"job_id":   job.ID.String(),
			"stage":    "job",
			"attempts": strconv.Itoa(job.AttemptsMade),
		})
	}
	n.deliver(ctx, job, http.MethodPost, failureBody{Error: msg})
}

func (n *Notifier) deliver(ctx context.Context, job *models.Job, method string, body any) {
	log := n.logger.With("job_id", job.ID, "callback_url", job.CallbackURL, "method", method)

	if err := n.send(ctx, method, job.CallbackURL, body); err != nil {
		log.Error("callback delivery failed", "error", err)
		n.reporter.Capture(err, map[string]string{
			"job_id": job.ID.String(),
			"stage":  "callback",
		})
		return
	}
	log.Info("callback delivered")
}

// send issues a single callback request and returns any delivery error.
func (n *Notifier) send(ctx context.Context, method, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding callback body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrCallbackStatus, resp.StatusCode)
	}
	return nil
}

var _ queue.Hooks = (*Notifier)(nil)
