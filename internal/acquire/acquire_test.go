package acquire

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/apisentry/pkg/logger"
)

type fakeS3 struct {
	objects map[string]string
	gotKey  string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gotKey = aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	body, ok := f.objects[f.gotKey]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.har")
	require.NoError(t, os.WriteFile(path, []byte(`{"log":{"entries":[]}}`), 0o600))

	r := NewReader(WithLogger(logger.NewMockLogger()))
	in, err := r.Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, KindFile, in.Kind)
	assert.Equal(t, path, in.Name)
	assert.JSONEq(t, `{"log":{"entries":[]}}`, string(in.Data))
}

func TestReadMissingFile(t *testing.T) {
	r := NewReader(WithLogger(logger.NewMockLogger()))
	_, err := r.Read(context.Background(), filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, IsAcquisitionError(err))
	assert.True(t, IsNotFound(err))

	var aerr *AcquisitionError
	require.ErrorAs(t, err, &aerr)
	assert.False(t, aerr.Retryable())
}

func TestReadFileOutsideAllowedDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("GET /x"), 0o600))

	r := NewReader(WithLogger(logger.NewMockLogger()), WithAllowedDirs(filepath.Join(dir, "imports")))
	_, err := r.Read(context.Background(), path)
	assert.True(t, IsAcquisitionError(err))
	assert.ErrorContains(t, err, "not within allowed")
}

func TestReadStdin(t *testing.T) {
	r := NewReader(WithLogger(logger.NewMockLogger()), WithStdin(strings.NewReader("curl https://api.example.com/x")))
	in, err := r.Read(context.Background(), StdinRef)
	require.NoError(t, err)
	assert.Equal(t, KindStdin, in.Kind)
	assert.Equal(t, "curl https://api.example.com/x", string(in.Data))
}

func TestReadSizeLimit(t *testing.T) {
	r := NewReader(WithLogger(logger.NewMockLogger()), WithStdin(strings.NewReader("0123456789")), WithMaxBytes(4))
	_, err := r.Read(context.Background(), StdinRef)
	assert.True(t, IsAcquisitionError(err))
	assert.ErrorContains(t, err, "exceeds 4 bytes")
}

func TestReadS3(t *testing.T) {
	client := &fakeS3{objects: map[string]string{"exports/api/petstore.yaml": "openapi: 3.0.0\n"}}
	r := NewReader(WithLogger(logger.NewMockLogger()), WithS3Client(client))

	in, err := r.Read(context.Background(), "s3://exports/api/petstore.yaml")
	require.NoError(t, err)
	assert.Equal(t, KindS3, in.Kind)
	assert.Equal(t, "api/petstore.yaml", in.Name)
	assert.Equal(t, "openapi: 3.0.0\n", string(in.Data))

	_, err = r.Read(context.Background(), "s3://exports/missing.json")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsAcquisitionError(err))
}

func TestReadS3ClientFailure(t *testing.T) {
	r := NewReader(WithLogger(logger.NewMockLogger()))
	r.newS3 = func(context.Context) (S3API, error) { return nil, errors.New("no credentials") }

	_, err := r.Read(context.Background(), "s3://bucket/key")
	assert.True(t, IsAcquisitionError(err))
	assert.ErrorContains(t, err, "no credentials")
}

func TestParseS3Ref(t *testing.T) {
	tests := []struct {
		ref     string
		bucket  string
		key     string
		wantErr bool
	}{
		{ref: "s3://b/k", bucket: "b", key: "k"},
		{ref: "s3://b/dir/k.json", bucket: "b", key: "dir/k.json"},
		{ref: "s3://b", wantErr: true},
		{ref: "s3:///k", wantErr: true},
		{ref: "/local/file", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			bucket, key, err := ParseS3Ref(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestIsPermissionDenied(t *testing.T) {
	assert.True(t, IsPermissionDenied(&AcquisitionError{Source: "x", Err: os.ErrPermission}))
	assert.False(t, IsPermissionDenied(&AcquisitionError{Source: "x", Err: os.ErrNotExist}))
}
