// Package archive keeps a durable copy of every run summary in S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/ports"
)

// ObjectPutter is the slice of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options select the bucket and key prefix.
type Options struct {
	Bucket       string
	Prefix       string
	Region       string
	UsePathStyle bool
}

// S3Archiver writes summaries as JSON under <prefix>runs/YYYY/MM/DD/<runID>.json.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
}

var _ ports.SummaryArchiver = (*S3Archiver)(nil)

// NewS3Archiver loads the default AWS credential chain.
func NewS3Archiver(ctx context.Context, opts Options) (*S3Archiver, error) {
	if opts.Bucket == "" {
		return nil, errors.New("archive bucket is not configured")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.UsePathStyle
	})
	return NewS3ArchiverWithClient(client, opts.Bucket, opts.Prefix), nil
}

// NewS3ArchiverWithClient uses an existing client.
func NewS3ArchiverWithClient(client ObjectPutter, bucket, prefix string) *S3Archiver {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key for summary.
func (a *S3Archiver) Key(summary domain.RunSummary) string {
	return a.prefix + "runs/" + summary.StartedAt.UTC().Format("2006/01/02") + "/" + summary.RunID + ".json"
}

// Archive uploads summary.
func (a *S3Archiver) Archive(ctx context.Context, summary domain.RunSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(summary)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload run summary: %w", err)
	}
	return nil
}
