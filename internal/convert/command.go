package convert

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/filepreview/pkg/models"
)

// Command renders through an ImageMagick-compatible executable, which also covers
// documents and videos when the matching delegates are installed.
type Command struct {
	path    string
	timeout time.Duration
}

func NewCommand(path string, timeout time.Duration) *Command {
	return &Command{path: path, timeout: timeout}
}

func (c *Command) Name() string { return "command" }

func (c *Command) Convert(ctx context.Context, src, dst string, opts models.Options) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.path, c.args(src, dst, opts)...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s timed out after %s: %w", ErrConversion, c.path, c.timeout, ctx.Err())
		}
		if msg != "" {
			return fmt.Errorf("%w: %w: %s", ErrConversion, err, msg)
		}
		return fmt.Errorf("%w: %w", ErrConversion, err)
	}
	return nil
}

// args renders the first page or frame only.
func (c *Command) args(src, dst string, opts models.Options) []string {
	args := []string{src + "[0]", "-background", "white", "-flatten"}

	if opts.Width > 0 || opts.Height > 0 {
		geometry := dimension(opts.Width) + "x" + dimension(opts.Height)
		if !opts.KeepAspect {
			geometry += "!"
		}
		args = append(args, "-resize", geometry)
	}
	if opts.Quality > 0 {
		args = append(args, "-quality", strconv.Itoa(opts.Quality))
	}
	return append(args, dst)
}

func dimension(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
