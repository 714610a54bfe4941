// Command presign prints a pre-signed PUT URL suitable for the signedS3Url field
// of a preview request.
//
//	presign -bucket previews -key reports/1.png -ttl 15m
//	presign -endpoint http://localhost:9000 -path-style -bucket previews -key 1.png
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/kiranshivaraju/filepreview/internal/presign"
	"github.com/kiranshivaraju/filepreview/pkg/models"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		slog.Error("presign failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("presign", flag.ContinueOnError)
	var (
		bucket    = fs.String("bucket", "", "target bucket (required)")
		key       = fs.String("key", "", "object key (required)")
		format    = fs.String("format", models.FormatPNG, "preview format; sets the signed Content-Type")
		ttl       = fs.Duration("ttl", 15*time.Minute, "how long the URL stays valid")
		region    = fs.String("region", os.Getenv("AWS_REGION"), "bucket region")
		endpoint  = fs.String("endpoint", os.Getenv("S3_ENDPOINT"), "S3-compatible endpoint (MinIO, R2); empty for AWS")
		pathStyle = fs.Bool("path-style", false, "use path-style addressing")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	signer, err := presign.NewSigner(ctx, presign.Options{
		Region:          *region,
		Endpoint:        *endpoint,
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		PathStyle:       *pathStyle,
	})
	if err != nil {
		return err
	}

	u, err := signer.PutURL(ctx, *bucket, *key, models.ContentType(*format), *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, u)
	return err
}
