// Package s3 uploads rendered run artifacts to an S3 bucket.
package s3

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/couchcryptid/hydromap/internal/config"
)

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader writes artifact files under a key prefix.
// It implements pipeline.ArtifactSink.
type Uploader struct {
	client putObjectAPI
	bucket string
	prefix string
	logger *slog.Logger
}

// NewUploader builds an uploader from the default AWS credential chain.
func NewUploader(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Uploader{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.S3Bucket,
		prefix: cfg.S3Prefix,
		logger: logger,
	}, nil
}

// UploadArtifact stores the file at localPath under runID and returns its
// s3:// URL.
func (u *Uploader) UploadArtifact(ctx context.Context, runID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	key := objectKey(u.prefix, runID, localPath)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(localPath)),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}
	url := fmt.Sprintf("s3://%s/%s", u.bucket, key)
	u.logger.Info("artifact uploaded", "url", url)
	return url, nil
}

func objectKey(prefix, runID, localPath string) string {
	return path.Join(strings.Trim(prefix, "/"), runID, filepath.Base(localPath))
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".geojson":
		return "application/geo+json"
	case ".json":
		return "application/json"
	case ".inp":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
