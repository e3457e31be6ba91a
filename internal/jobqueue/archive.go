package jobqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveConfig holds S3 settings for dead-letter archival.
type ArchiveConfig struct {
	// Region is the AWS region.
	Region string `json:"region" yaml:"region"`

	// Bucket is the S3 bucket name.
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix is the key prefix for archived jobs.
	Prefix string `json:"prefix" yaml:"prefix"`

	// Endpoint is an optional custom endpoint (for S3-compatible storage).
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// AccessKeyID for static credentials (optional, uses IAM if not set).
	AccessKeyID string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`

	// SecretAccessKey for static credentials.
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`

	// UsePathStyle forces path-style addressing (for MinIO, etc.).
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// Timeout for upload operations.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultArchiveConfig returns a Config with sensible defaults.
func DefaultArchiveConfig() *ArchiveConfig {
	return &ArchiveConfig{
		Region:  "us-east-1",
		Bucket:  "watchtower-soar-archive",
		Prefix:  "dead-jobs/",
		Timeout: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *ArchiveConfig) Validate() error {
	if c.Region == "" {
		return errors.New("jobqueue: archive region is required")
	}
	if c.Bucket == "" {
		return errors.New("jobqueue: archive bucket is required")
	}
	return nil
}

// S3Archiver writes dead-lettered jobs to S3 so they survive Redis
// eviction and can be inspected or replayed later.
type S3Archiver struct {
	client   *s3.Client
	config   *ArchiveConfig
	logger   *slog.Logger
	archived atomic.Int64
	failures atomic.Int64
}

// NewS3Archiver creates an archiver with the given configuration.
func NewS3Archiver(ctx context.Context, cfg *ArchiveConfig, logger *slog.Logger) (*S3Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	logger.Info("dead-job archiver initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region)

	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		config: cfg,
		logger: logger,
	}, nil
}

// ArchiveDeadJob uploads the job as JSON, keyed by day and job ID.
func (a *S3Archiver) ArchiveDeadJob(ctx context.Context, job *Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("jobqueue: marshal dead job: %w", err)
	}

	key := fmt.Sprintf("%s%s/%s.json",
		a.config.Prefix,
		time.Now().UTC().Format("2006/01/02"),
		job.ID)

	uploadCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	_, err = a.client.PutObject(uploadCtx, &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"binding-id":  job.BindingID.String(),
			"playbook-id": job.PlaybookID,
			"attempts":    fmt.Sprintf("%d", job.Attempts),
		},
	})
	if err != nil {
		a.failures.Add(1)
		return fmt.Errorf("jobqueue: archive upload %s: %w", key, err)
	}

	a.archived.Add(1)
	a.logger.Debug("archived dead job", "key", key, "job_id", job.ID)
	return nil
}

// Stats returns archiver counters.
func (a *S3Archiver) Stats() map[string]int64 {
	return map[string]int64{
		"archived": a.archived.Load(),
		"failures": a.failures.Load(),
	}
}
