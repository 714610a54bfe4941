// Package pipeline runs one attempt of a preview job: Download, then Convert, then Upload.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kiranshivaraju/filepreview/internal/convert"
	"github.com/kiranshivaraju/filepreview/pkg/models"
)

// Transfer moves files to and from remote URLs.
type Transfer interface {
	Download(ctx context.Context, rawURL string) (string, error)
	Upload(ctx context.Context, path, signedURL, contentType string) (string, error)
}

// Executor runs the three stages in strict sequence. It never touches queue state;
// the single error it returns goes back to the queue, which decides on retries.
type Executor struct {
	transfer  Transfer
	converter convert.Converter
	workDir   string
	logger    *slog.Logger
}

// NewExecutor creates an Executor. Temporary files are created in workDir.
func NewExecutor(t Transfer, c convert.Converter, workDir string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{transfer: t, converter: c, workDir: workDir, logger: logger}
}

// Execute returns the public URL of the uploaded preview. Every temporary file
// created along the way is removed before it returns.
func (e *Executor) Execute(ctx context.Context, job *models.Job) (string, error) {
	log := e.logger.With("job_id", job.ID, "attempt", job.AttemptsMade)

	src, err := e.download(ctx, job)
	if err != nil {
		log.Warn("download failed", "url", job.DownloadURL, "error", err)
		return "", err
	}
	log.Debug("source downloaded", "path", src)

	out, err := e.convert(ctx, job, src)
	if err != nil {
		log.Warn("conversion failed", "converter", e.converter.Name(), "error", err)
		return "", err
	}
	log.Debug("preview rendered", "path", out)

	result, err := e.upload(ctx, job, out)
	if err != nil {
		log.Warn("upload failed", "error", err)
		return "", err
	}
	return result, nil
}

func (e *Executor) download(ctx context.Context, job *models.Job) (string, error) {
	return e.transfer.Download(ctx, job.DownloadURL)
}

// convert always removes src. On failure the output file is removed too.
func (e *Executor) convert(ctx context.Context, job *models.Job, src string) (string, error) {
	defer os.Remove(src)

	f, err := os.CreateTemp(e.workDir, "preview-*."+job.Options.OutputFormat)
	if err != nil {
		return "", fmt.Errorf("create preview file: %w", err)
	}
	out := f.Name()
	f.Close()

	if err := e.converter.Convert(ctx, src, out, job.Options); err != nil {
		os.Remove(out)
		return "", err
	}
	return out, nil
}

// upload always removes the preview file.
func (e *Executor) upload(ctx context.Context, job *models.Job, out string) (string, error) {
	defer os.Remove(out)
	return e.transfer.Upload(ctx, out, job.SignedS3URL, models.ContentType(job.Options.OutputFormat))
}
