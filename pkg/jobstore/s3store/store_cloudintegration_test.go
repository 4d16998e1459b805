//go:build cloudintegration

package s3store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gojobs/pkg/job"
	"github.com/3leaps/gojobs/pkg/jobstore/jobstoretest"
	"github.com/3leaps/gojobs/pkg/jobstore/s3store"
	"github.com/3leaps/gojobs/test/cloudtest"
)

func newMotoBackend(t *testing.T) *s3store.Backend {
	t.Helper()
	ctx := context.Background()
	bucket := cloudtest.CreateBucket(t, ctx)

	b, err := s3store.New(ctx, s3store.Config{
		Bucket:          bucket,
		Prefix:          "jobs/",
		Endpoint:        cloudtest.Endpoint,
		Region:          cloudtest.Region,
		AccessKeyID:     cloudtest.TestAccessKeyID,
		SecretAccessKey: cloudtest.TestSecretAccessKey,
		ForcePathStyle:  true,
	})
	require.NoError(t, err)
	return b
}

func TestBackendContract_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	jobstoretest.RunBackendContract(t, func(t *testing.T) job.Backend { return newMotoBackend(t) })
}

func TestEngineSmoke_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	jobstoretest.RunEngineSmoke(t, newMotoBackend(t))
}

func TestMissingBucket_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	b, err := s3store.New(ctx, s3store.Config{
		Bucket:          "nonexistent-bucket-12345",
		Endpoint:        cloudtest.Endpoint,
		Region:          cloudtest.Region,
		AccessKeyID:     cloudtest.TestAccessKeyID,
		SecretAccessKey: cloudtest.TestSecretAccessKey,
		ForcePathStyle:  true,
	})
	require.NoError(t, err)

	_, err = b.List(ctx)
	require.ErrorIs(t, err, s3store.ErrBucketNotFound)
}

func TestKeyLayout_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()
	bucket := cloudtest.CreateBucket(t, ctx)

	b, err := s3store.New(ctx, s3store.Config{
		Bucket:          bucket,
		Prefix:          "jobs/",
		Endpoint:        cloudtest.Endpoint,
		Region:          cloudtest.Region,
		AccessKeyID:     cloudtest.TestAccessKeyID,
		SecretAccessKey: cloudtest.TestSecretAccessKey,
		ForcePathStyle:  true,
	})
	require.NoError(t, err)

	id := uuid.New()
	snap := jobstoretest.Snapshot(id, "started", "", time.Now().UTC())
	require.NoError(t, b.SaveSnapshot(ctx, snap))
	require.NoError(t, b.SaveSnapshot(ctx, snap))

	require.Equal(t, []string{b.Key(id)}, cloudtest.ObjectKeys(t, ctx, bucket, "jobs/"))
}
