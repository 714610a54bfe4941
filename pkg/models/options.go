package models

import "math"

// Output formats accepted for the rendered preview.
const (
	FormatPNG = "png"
	FormatJPG = "jpg"
	FormatGIF = "gif"
)

// Page orientations. Landscape derives the height from the width.
const (
	OrientationPortrait  = "portrait"
	OrientationLandscape = "landscape"
)

// Options are the rendering parameters handed to the converter.
type Options struct {
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Quality      int    `json:"quality"`
	OutputFormat string `json:"outputFormat"`
	Orientation  string `json:"orientation"`
	KeepAspect   bool   `json:"keepAspect"`
}

// OptionOverrides carries the subset of Options a client supplied.
// Nil fields fall back to the configured defaults.
type OptionOverrides struct {
	Width        *int
	Height       *int
	Quality      *int
	OutputFormat *string
	Orientation  *string
}

// ResolveOptions overlays overrides on defaults and applies the orientation rule:
// landscape sets Height = floor(Width / sqrt(2)) (A4 rotated) and turns off KeepAspect.
func ResolveOptions(defaults Options, o OptionOverrides) Options {
	opts := defaults
	if o.Width != nil {
		opts.Width = *o.Width
	}
	if o.Height != nil {
		opts.Height = *o.Height
	}
	if o.Quality != nil {
		opts.Quality = *o.Quality
	}
	if o.OutputFormat != nil {
		opts.OutputFormat = *o.OutputFormat
	}
	if o.Orientation != nil {
		opts.Orientation = *o.Orientation
	}

	if opts.Orientation == OrientationLandscape {
		opts.Height = int(math.Floor(float64(opts.Width) * (1 / math.Sqrt2)))
		opts.KeepAspect = false
	}
	return opts
}

// ContentType returns the MIME type used when uploading a preview in this format.
func ContentType(format string) string {
	switch format {
	case FormatJPG, "jpeg":
		return "image/jpeg"
	case "":
		return "application/octet-stream"
	default:
		return "image/" + format
	}
}
