// Package convert renders preview images from downloaded source files.
package convert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/filepreview/internal/config"
	"github.com/kiranshivaraju/filepreview/pkg/models"
)

var (
	ErrUnsupportedInput = errors.New("unsupported input file")
	ErrConversion       = errors.New("conversion failed")
)

// Converter writes a preview of src to dst according to opts.
// dst already carries the output format as its extension.
type Converter interface {
	Name() string
	Convert(ctx context.Context, src, dst string, opts models.Options) error
}

// New constructs the converter selected by configuration.
func New(cfg config.ConverterConfig) (Converter, error) {
	switch cfg.Name {
	case "imaging":
		return NewImaging(), nil
	case "command":
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		return NewCommand(cfg.Command, timeout), nil
	default:
		return nil, fmt.Errorf("unknown converter %q: must be one of imaging, command", cfg.Name)
	}
}
