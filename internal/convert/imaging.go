package convert

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	"github.com/kiranshivaraju/filepreview/pkg/models"
)

// decoders lists the raster types the in-process renderer understands, keyed by sniffed MIME type.
var decoders = map[string]func(io.Reader) (image.Image, error){
	"image/png":  decodeStd,
	"image/jpeg": decodeStd,
	"image/gif":  decodeStd,
	"image/bmp":  decodeStd,
	"image/tiff": decodeStd,
	"image/webp": webp.Decode,
}

var encodings = map[string]imaging.Format{
	models.FormatPNG: imaging.PNG,
	models.FormatJPG: imaging.JPEG,
	models.FormatGIF: imaging.GIF,
}

// Imaging renders raster sources in process.
type Imaging struct{}

func NewImaging() *Imaging { return &Imaging{} }

func (*Imaging) Name() string { return "imaging" }

func (*Imaging) Convert(_ context.Context, src, dst string, opts models.Options) error {
	format, ok := encodings[opts.OutputFormat]
	if !ok {
		return fmt.Errorf("%w: output format %q", ErrUnsupportedInput, opts.OutputFormat)
	}

	mtype, err := mimetype.DetectFile(src)
	if err != nil {
		return fmt.Errorf("%w: sniff %s: %w", ErrConversion, src, err)
	}
	decode, ok := decoders[mtype.String()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedInput, mtype.String())
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: open source: %w", ErrConversion, err)
	}
	defer in.Close()

	img, err := decode(in)
	if err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrConversion, mtype.String(), err)
	}

	img = resize(img, opts)

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: create output: %w", ErrConversion, err)
	}
	if err := imaging.Encode(out, img, format, imaging.JPEGQuality(opts.Quality)); err != nil {
		out.Close()
		return fmt.Errorf("%w: encode %s: %w", ErrConversion, opts.OutputFormat, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close output: %w", ErrConversion, err)
	}
	return nil
}

// resize fits the image inside the box when KeepAspect is set, or stretches it to the exact box.
// A zero dimension is derived from the other one.
func resize(img image.Image, opts models.Options) image.Image {
	w, h := opts.Width, opts.Height
	switch {
	case w <= 0 && h <= 0:
		return img
	case w <= 0 || h <= 0:
		return imaging.Resize(img, max(w, 0), max(h, 0), imaging.Lanczos)
	case opts.KeepAspect:
		return imaging.Fit(img, w, h, imaging.Lanczos)
	default:
		return imaging.Resize(img, w, h, imaging.Lanczos)
	}
}

func decodeStd(r io.Reader) (image.Image, error) {
	return imaging.Decode(r, imaging.AutoOrientation(true))
}
