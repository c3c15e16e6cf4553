// Package artifacts stages build bundles in S3 when a staging bucket is
// configured, so large archives are referenced by key instead of inlined in
// the rollout calls.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"github.com/okabe/linebot-deployer/internal/packaging"
)

// PutObjectAPI is the subset of the S3 API the uploader uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ PutObjectAPI = (*s3.Client)(nil)

// Location identifies an uploaded bundle.
type Location struct {
	Bucket string
	Key    string
}

type Uploader struct {
	client PutObjectAPI
	bucket string
	runID  string
}

// NewUploader creates an uploader scoped to a single run; every run stages
// its bundles under a fresh ksuid prefix.
func NewUploader(client PutObjectAPI, bucket string) *Uploader {
	return &Uploader{
		client: client,
		bucket: bucket,
		runID:  ksuid.New().String(),
	}
}

func (u *Uploader) Upload(ctx context.Context, stackName string, bundle *packaging.Bundle) (location *Location, err error) {
	logger := zerolog.Ctx(ctx)

	key := fmt.Sprintf("%s/%s/%s", stackName, u.runID, filepath.Base(bundle.Path))

	defer func(begin time.Time) {
		logger.Info().
			Interface("error", err).
			Str("bucket", u.bucket).
			Str("key", key).
			Dur("duration", time.Since(begin)).
			Msg("Uploaded bundle")
	}(time.Now())

	file, err := os.Open(bundle.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle %s: %w", bundle.Path, err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer file.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s to s3://%s/%s: %w", bundle.Path, u.bucket, key, err)
	}

	return &Location{Bucket: u.bucket, Key: key}, nil
}
