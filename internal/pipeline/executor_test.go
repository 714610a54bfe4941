package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/filepreview/internal/pipeline"
	"github.com/kiranshivaraju/filepreview/internal/transfer"
	"github.com/kiranshivaraju/filepreview/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConverter writes a fixed payload to dst, or fails with err.
type fakeConverter struct {
	err  error
	srcs []string
}

func (f *fakeConverter) Name() string { return "fake" }

func (f *fakeConverter) Convert(_ context.Context, src, dst string, _ models.Options) error {
	f.srcs = append(f.srcs, src)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, []byte("preview-bytes"), 0o600)
}

type storage struct {
	server   *httptest.Server
	uploaded []byte
	ctype    string
}

// newStorage serves a PDF on GET /source.pdf and accepts PUT /bucket/*
// with the given status and body.
func newStorage(t *testing.T, putStatus int, putBody string) *storage {
	t.Helper()
	s := &storage{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/source.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			w.Write([]byte("%PDF-1.4"))
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut:
			s.uploaded, _ = io.ReadAll(r.Body)
			s.ctype = r.Header.Get("Content-Type")
			w.WriteHeader(putStatus)
			w.Write([]byte(putBody))
		}
	}))
	t.Cleanup(s.server.Close)
	return s
}

func newExecutor(t *testing.T, conv *fakeConverter) (*pipeline.Executor, string) {
	t.Helper()
	dir := t.TempDir()
	client := transfer.NewClient(5*time.Second, 5*time.Second, dir)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return pipeline.NewExecutor(client, conv, dir, logger), dir
}

func job(s *storage, source string) *models.Job {
	return &models.Job{
		ID:           uuid.New(),
		DownloadURL:  s.server.URL + source,
		SignedS3URL:  s.server.URL + "/bucket/previews/1.jpg?X-Amz-Signature=abc&X-Amz-Expires=900",
		CallbackURL:  "http://callback.invalid/done",
		Options:      models.Options{Width: 100, Height: 100, Quality: 80, OutputFormat: models.FormatJPG, KeepAspect: true},
		AttemptsMade: 1,
		MaxAttempts:  2,
	}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files left in work dir")
}

func TestExecute_Success(t *testing.T) {
	s := newStorage(t, http.StatusOK, "")
	conv := &fakeConverter{}
	exec, dir := newExecutor(t, conv)

	got, err := exec.Execute(context.Background(), job(s, "/source.pdf"))
	require.NoError(t, err)

	assert.Equal(t, s.server.URL+"/bucket/previews/1.jpg", got)
	assert.Equal(t, "preview-bytes", string(s.uploaded))
	assert.Equal(t, "image/jpeg", s.ctype)
	require.Len(t, conv.srcs, 1)
	assert.Equal(t, ".pdf", filepath.Ext(conv.srcs[0]))
	assertNoTempFiles(t, dir)
}

func TestExecute_DownloadFailure(t *testing.T) {
	s := newStorage(t, http.StatusOK, "")
	conv := &fakeConverter{}
	exec, dir := newExecutor(t, conv)

	_, err := exec.Execute(context.Background(), job(s, "/missing.pdf"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, transfer.ErrDownloadStatus))
	assert.Empty(t, conv.srcs, "converter must not run after a failed download")
	assert.Nil(t, s.uploaded)
	assertNoTempFiles(t, dir)
}

func TestExecute_ConversionFailure(t *testing.T) {
	s := newStorage(t, http.StatusOK, "")
	convErr := errors.New("no decoder for pdf")
	exec, dir := newExecutor(t, &fakeConverter{err: convErr})

	_, err := exec.Execute(context.Background(), job(s, "/source.pdf"))
	require.Error(t, err)
	assert.Equal(t, convErr, err)
	assert.Nil(t, s.uploaded, "upload must not run after a failed conversion")
	assertNoTempFiles(t, dir)
}

func TestExecute_UploadRejected(t *testing.T) {
	s := newStorage(t, http.StatusForbidden,
		`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Denied</Message></Error>`)
	exec, dir := newExecutor(t, &fakeConverter{})

	_, err := exec.Execute(context.Background(), job(s, "/source.pdf"))
	require.Error(t, err)
	assert.Equal(t, "Denied (AccessDenied)", err.Error())
	assert.True(t, errors.Is(err, transfer.ErrUploadStatus))
	assertNoTempFiles(t, dir)
}

func TestExecute_CanceledContext(t *testing.T) {
	s := newStorage(t, http.StatusOK, "")
	exec, dir := newExecutor(t, &fakeConverter{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, job(s, "/source.pdf"))
	require.Error(t, err)
	assertNoTempFiles(t, dir)
}
