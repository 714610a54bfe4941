package app_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiranshivaraju/filepreview/internal/app"
	"github.com/kiranshivaraju/filepreview/internal/cache"
	"github.com/kiranshivaraju/filepreview/internal/config"
	"github.com/kiranshivaraju/filepreview/internal/report"
	"github.com/kiranshivaraju/filepreview/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Queue: config.QueueConfig{
			Backend:           config.BackendMemory,
			Concurrency:       1,
			MaxAttempts:       2,
			PollInterval:      10 * time.Millisecond,
			Lease:             time.Minute,
			BackoffBase:       time.Millisecond,
			BackoffMax:        time.Millisecond,
			Retention:         time.Hour,
			RetentionSchedule: "@every 1h",
		},
		Transfer: config.TransferConfig{
			DownloadTimeout: time.Second,
			UploadTimeout:   time.Second,
			WorkDir:         filepath.Join(t.TempDir(), "work"),
		},
		Callback:  config.CallbackConfig{Timeout: time.Second, SuccessMethod: http.MethodPatch},
		Converter: config.ConverterConfig{Name: "imaging"},
		Defaults:  models.Options{Width: 300, Height: 300, Quality: 90, OutputFormat: models.FormatPNG, KeepAspect: true},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_MemoryBackend(t *testing.T) {
	a, err := app.New(context.Background(), memoryConfig(t), quietLogger(), "test")
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Queue)
	assert.NotNil(t, a.Executor)
	assert.NotNil(t, a.Janitor)
	assert.IsType(t, &cache.MemoryCounter{}, a.Counter)
	assert.IsType(t, report.Nop{}, a.Reporter)
	assert.NoError(t, a.Queue.Ping(context.Background()))
	assert.DirExists(t, a.Config.Transfer.WorkDir)
}

func TestNew_UnknownConverter(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Converter.Name = "pdfium"

	_, err := app.New(context.Background(), cfg, quietLogger(), "test")
	assert.ErrorContains(t, err, "create converter")
}

func TestNew_BadRetentionSchedule(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Queue.RetentionSchedule = "whenever"

	_, err := app.New(context.Background(), cfg, quietLogger(), "test")
	assert.ErrorContains(t, err, "create janitor")
}

func TestNew_UnreachableRedis(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Queue.Backend = config.BackendRedis
	cfg.Redis.URL = "redis://127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := app.New(ctx, cfg, quietLogger(), "test")
	assert.ErrorContains(t, err, "connect redis")
}

func TestRunWorkers_StopsOnCancel(t *testing.T) {
	a, err := app.New(context.Background(), memoryConfig(t), quietLogger(), "test")
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunWorkers(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop")
	}
}
