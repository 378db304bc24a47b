// Package s3 archives final reports in an S3-compatible bucket.
package s3

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ericfisherdev/qabot/internal/domain/model"
	"github.com/ericfisherdev/qabot/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ReportArchive = (*Archive)(nil)

// Config holds the settings needed to connect to an S3-compatible store.
type Config struct {
	Endpoint  string // custom endpoint URL (e.g. http://localhost:3900)
	Region    string
	Bucket    string
	Prefix    string // key prefix, "reports" when empty
	AccessKey string
	SecretKey string
}

// Archive writes reports to a single bucket.
type Archive struct {
	s3     *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// New creates an Archive from the given Config.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Archive, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "reports"
	}

	return &Archive{
		s3:     s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Key returns the object key of a report: <prefix>/<request>/<result>.md.
func (a *Archive) Key(requestID string, result model.CommentResult) string {
	return path.Join(a.prefix, requestID, string(result)+".md")
}

// PutReport uploads body as markdown, replacing any earlier report of the
// same request and result.
func (a *Archive) PutReport(ctx context.Context, requestID string, result model.CommentResult, body string) error {
	key := a.Key(requestID, result)
	_, err := a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        strings.NewReader(body),
		ContentType: aws.String("text/markdown; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	a.logger.Debug("report archived", "bucket", a.bucket, "key", key, "bytes", len(body))
	return nil
}
