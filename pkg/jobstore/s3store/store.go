package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/3leaps/gojobs/pkg/job"
)

// Sentinel errors wrapped inside job.StorageError for S3 failures.
var (
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrThrottled          = errors.New("request throttled")
	ErrUnavailable        = errors.New("s3 unavailable")
)

// API is the subset of *s3.Client the store uses.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Backend stores one object per job at <prefix><job_id>.json. A PUT replaces
// the object atomically.
type Backend struct {
	client API
	bucket string
	prefix string
}

var _ job.Backend = (*Backend)(nil)

// New creates a backend with a client built from cfg.
//
// The client uses AWS SDK v2's default credential chain unless explicit
// credentials are provided in the config.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API, bucket, prefix string) *Backend {
	return &Backend{client: client, bucket: bucket, prefix: prefix}
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Only apply explicit region if set; let the SDK resolve env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// Key returns the object key for id.
func (b *Backend) Key(id uuid.UUID) string {
	return b.prefix + id.String() + ".json"
}

// SaveSnapshot implements job.Backend.
func (b *Backend) SaveSnapshot(ctx context.Context, snap job.Snapshot) error {
	id := snap.ID.String()
	data, err := json.Marshal(snap)
	if err != nil {
		return job.SerializationError("save", id, err)
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.Key(snap.ID)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return b.wrapError("save", id, err)
	}
	return nil
}

// LoadSnapshot implements job.Backend.
func (b *Backend) LoadSnapshot(ctx context.Context, id uuid.UUID) (job.Snapshot, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.Key(id)),
	})
	if err != nil {
		return job.Snapshot{}, b.wrapError("load", id.String(), err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return job.Snapshot{}, job.IOError("load", id.String(), fmt.Errorf("read object: %w", err))
	}

	var snap job.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return job.Snapshot{}, job.SerializationError("load", id.String(), err)
	}
	if snap.ID != id {
		return job.Snapshot{}, job.SerializationError("load", id.String(), fmt.Errorf("object holds job %s", snap.ID))
	}
	return snap, nil
}

// Delete removes the job object.
func (b *Backend) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.Key(id)),
	})
	if err != nil {
		return b.wrapError("delete", id.String(), err)
	}
	return nil
}

// List returns every job snapshot under the prefix, newest first.
func (b *Backend) List(ctx context.Context) ([]job.Snapshot, error) {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})

	var out []job.Snapshot
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.wrapError("list", "", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), b.prefix)
			if !strings.HasSuffix(name, ".json") {
				continue
			}
			id, err := uuid.Parse(strings.TrimSuffix(name, ".json"))
			if err != nil {
				continue
			}
			snap, err := b.LoadSnapshot(ctx, id)
			if err != nil {
				if job.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			out = append(out, snap)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// wrapError converts S3 errors into job storage errors. Missing keys become
// not-found; everything else is an I/O error wrapping a classification
// sentinel when one applies.
func (b *Backend) wrapError(op, id string, err error) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket

	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		return job.NotFoundError(op, id)
	case errors.As(err, &noSuchBucket):
		return job.IOError(op, id, fmt.Errorf("%w: %s: %v", ErrBucketNotFound, b.bucket, err))
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		var sentinel error
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return job.NotFoundError(op, id)
		case "NoSuchBucket":
			sentinel = ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			sentinel = ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			sentinel = ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			sentinel = ErrThrottled
		case "ServiceUnavailable", "InternalError":
			sentinel = ErrUnavailable
		}
		if sentinel != nil {
			return job.IOError(op, id, fmt.Errorf("%w: %v", sentinel, err))
		}
	}

	return job.IOError(op, id, err)
}
