package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okabe/linebot-deployer/internal/packaging"
)

type fakePutObjectAPI struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakePutObjectAPI) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, params)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func writeBundle(t *testing.T, name, content string) *packaging.Bundle {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return &packaging.Bundle{Kind: packaging.KindFunction, Path: path}
}

func TestUpload(t *testing.T) {
	api := &fakePutObjectAPI{}
	uploader := NewUploader(api, "deploy-artifacts")

	location, err := uploader.Upload(context.Background(), "my-bot", writeBundle(t, "function.zip", "zip-bytes"))
	require.NoError(t, err)

	assert.Equal(t, "deploy-artifacts", location.Bucket)
	assert.Equal(t, fmt.Sprintf("my-bot/%s/function.zip", uploader.runID), location.Key)

	require.Len(t, api.inputs, 1)
	assert.Equal(t, "deploy-artifacts", aws.ToString(api.inputs[0].Bucket))
	assert.Equal(t, "zip-bytes", api.bodies[0])
}

func TestUpload_SharedRunPrefix(t *testing.T) {
	api := &fakePutObjectAPI{}
	uploader := NewUploader(api, "deploy-artifacts")

	functionLocation, err := uploader.Upload(context.Background(), "my-bot", writeBundle(t, "function.zip", "a"))
	require.NoError(t, err)
	layerLocation, err := uploader.Upload(context.Background(), "my-bot", writeBundle(t, "layer.zip", "b"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Dir(functionLocation.Key), filepath.Dir(layerLocation.Key),
		"bundles from one run share a key prefix")
}

func TestUpload_MissingBundle(t *testing.T) {
	uploader := NewUploader(&fakePutObjectAPI{}, "deploy-artifacts")

	_, err := uploader.Upload(context.Background(), "my-bot", &packaging.Bundle{
		Kind: packaging.KindFunction,
		Path: filepath.Join(t.TempDir(), "missing.zip"),
	})
	require.Error(t, err)
}

func TestUpload_ProviderRejection(t *testing.T) {
	api := &fakePutObjectAPI{err: fmt.Errorf("AccessDenied")}
	uploader := NewUploader(api, "deploy-artifacts")

	_, err := uploader.Upload(context.Background(), "my-bot", writeBundle(t, "function.zip", "zip-bytes"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://deploy-artifacts/")
}
