package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/filepreview/internal/api/response"
	"github.com/kiranshivaraju/filepreview/pkg/models"
)

const maxBodyBytes = 1 << 20

// Submitter persists a job for asynchronous processing.
type Submitter interface {
	Submit(ctx context.Context, job *models.Job) (uuid.UUID, error)
}

type previewRequest struct {
	CallbackURL *string         `json:"callbackUrl" validate:"required,url"`
	DownloadURL *string         `json:"downloadUrl" validate:"required,url"`
	SignedS3URL *string         `json:"signedS3Url" validate:"required,url"`
	Options     *previewOptions `json:"options"`
}

type previewOptions struct {
	Width        *int    `json:"width" validate:"omitempty,gt=0"`
	Height       *int    `json:"height" validate:"omitempty,gt=0"`
	Quality      *int    `json:"quality" validate:"omitempty,min=0,max=100"`
	OutputFormat *string `json:"outputFormat" validate:"omitempty,oneof=png jpg gif"`
	Orientation  *string `json:"orientation" validate:"omitempty,oneof=landscape portrait"`
}

func (o *previewOptions) overrides() models.OptionOverrides {
	if o == nil {
		return models.OptionOverrides{}
	}
	return models.OptionOverrides{
		Width:        o.Width,
		Height:       o.Height,
		Quality:      o.Quality,
		OutputFormat: o.OutputFormat,
		Orientation:  o.Orientation,
	}
}

// FilePreview handles POST /filepreview.
type FilePreview struct {
	submitter Submitter
	defaults  models.Options
	validate  *validator.Validate
}

// NewFilePreview creates the handler. defaults are overlaid by the options of each request.
func NewFilePreview(s Submitter, defaults models.Options) *FilePreview {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return &FilePreview{submitter: s, defaults: defaults, validate: v}
}

func (h *FilePreview) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		response.Error(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	var req previewRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, decodeErrorMessage(err))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		status, msg := validationError(err)
		response.Error(w, status, msg)
		return
	}

	job := &models.Job{
		Options:     models.ResolveOptions(h.defaults, req.Options.overrides()),
		DownloadURL: *req.DownloadURL,
		SignedS3URL: *req.SignedS3URL,
		CallbackURL: *req.CallbackURL,
	}

	id, err := h.submitter.Submit(r.Context(), job)
	if err != nil {
		slog.Error("failed to submit preview job", "error", err, "download_url", job.DownloadURL)
		response.Error(w, http.StatusServiceUnavailable, "Failed to queue preview job")
		return
	}

	slog.Info("preview job queued", "job_id", id, "format", job.Options.OutputFormat)
	response.Text(w, "OK")
}

// validationError maps validator failures to a status and message. A missing
// required field wins over every other failure.
func validationError(err error) (int, string) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return http.StatusBadRequest, err.Error()
	}

	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return http.StatusUnprocessableEntity, "request must contain " + fe.Field()
		}
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "url":
		return http.StatusBadRequest, fmt.Sprintf("%s must be a valid URI", fe.Field())
	case "oneof":
		return http.StatusBadRequest, fmt.Sprintf("%s must be one of [%s]", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min", "max":
		return http.StatusBadRequest, fmt.Sprintf("%s must be between 0 and 100", fe.Field())
	case "gt":
		return http.StatusBadRequest, fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	default:
		return http.StatusBadRequest, fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func decodeErrorMessage(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("%s must be of type %s", typeErr.Field, typeErr.Type)
	}
	return "Invalid JSON body"
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}
