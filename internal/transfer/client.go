// Package transfer moves files between the worker's disk and remote HTTP endpoints:
// streamed downloads from source URLs and uploads to pre-signed storage URLs.
package transfer

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"
)

// Sentinel errors for transfer failures.
var (
	ErrDownloadStatus         = errors.New("download returned non-success status")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrDownloadTransfer       = errors.New("download transfer failed")
	ErrDownloadTimeout        = errors.New("download timed out")
	ErrUploadTransfer         = errors.New("upload transfer failed")
	ErrUploadStatus           = errors.New("upload rejected by storage")
)

// StorageError is the XML error document returned by S3-compatible storage.
type StorageError struct {
	XMLName    xml.Name `xml:"Error"`
	Code       string   `xml:"Code"`
	Message    string   `xml:"Message"`
	StatusCode int      `xml:"-"`
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Is lets callers match any storage rejection with errors.Is(err, ErrUploadStatus).
func (e *StorageError) Is(target error) bool {
	return target == ErrUploadStatus
}

// extensions maps the content types we accept to the suffix given to the downloaded file.
var extensions = map[string]string{
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.ms-excel":                                                  ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/vnd.ms-powerpoint":                                             ".ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/jpg":     ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/bmp":     ".bmp",
	"image/tiff":    ".tiff",
	"image/svg+xml": ".svg",
	"video/mp4":     ".mp4",
	"video/webm":    ".webm",
}

// Client downloads sources and uploads previews.
type Client struct {
	download *http.Client
	upload   *http.Client
	workDir  string
}

// NewClient creates a Client. Downloaded files are created in workDir.
// downloadTimeout bounds connecting and waiting for the response headers of a
// source; the body itself streams for as long as the caller's context allows.
func NewClient(downloadTimeout, uploadTimeout time.Duration, workDir string) *Client {
	return &Client{
		download: &http.Client{Transport: downloadTransport(downloadTimeout)},
		upload:   &http.Client{Timeout: uploadTimeout},
		workDir:  workDir,
	}
}

func downloadTransport(timeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	t.TLSHandshakeTimeout = timeout
	t.ResponseHeaderTimeout = timeout
	return t
}

// Download streams rawURL into a new temporary file and returns its path.
// The caller owns the file on success. On failure no file is left behind.
func (c *Client) Download(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: building request: %w", ErrDownloadTransfer, err)
	}

	resp, err := c.download.Do(req)
	if err != nil {
		return "", classifyError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrDownloadStatus, resp.StatusCode)
	}

	ext, err := extensionFor(req.URL, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(c.workDir, "download-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", classifyError(ctx, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close download file: %w", err)
	}

	return f.Name(), nil
}

// Upload PUTs the file at path to signedURL and returns the URL without its query string.
// Non-success responses are parsed as a storage XML error document.
func (c *Client) Upload(ctx context.Context, path, signedURL, contentType string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read preview file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: building request: %w", ErrUploadTransfer, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := c.upload.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadTransfer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", parseStorageError(resp)
	}

	return stripQuery(req.URL), nil
}

func parseStorageError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: status %d: reading body: %w", ErrUploadStatus, resp.StatusCode, err)
	}

	var se StorageError
	if err := xml.Unmarshal(body, &se); err != nil {
		return fmt.Errorf("%w: status %d: %w", ErrUploadStatus, resp.StatusCode, err)
	}
	se.StatusCode = resp.StatusCode
	return &se
}

// extensionFor prefers the URL path suffix and falls back to the declared content type.
func extensionFor(u *url.URL, contentType string) (string, error) {
	if ext := path.Ext(u.Path); ext != "" {
		return ext, nil
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
	ext, ok := extensions[mediaType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContentType, mediaType)
	}
	return ext, nil
}

func stripQuery(u *url.URL) string {
	clean := *u
	clean.RawQuery = ""
	clean.ForceQuery = false
	clean.Fragment = ""
	return clean.String()
}

// classifyError maps transport-level errors to sentinel errors. An expired
// caller deadline counts as a timeout whatever error the read surfaced.
func classifyError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrDownloadTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrDownloadTimeout, err)
	}

	return fmt.Errorf("%w: %w", ErrDownloadTransfer, err)
}
