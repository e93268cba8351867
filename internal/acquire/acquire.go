// Package acquire reads raw import input from local files, stdin or S3.
package acquire

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/joshsymonds/apisentry/pkg/logger"
	"github.com/joshsymonds/apisentry/pkg/pathutil"
)

// DefaultMaxBytes caps the size of a single input.
const DefaultMaxBytes int64 = 64 << 20

// StdinRef is the reference that selects standard input.
const StdinRef = "-"

const s3Scheme = "s3://"

// Kind names where an input came from.
type Kind string

// Input kinds.
const (
	KindFile  Kind = "file"
	KindStdin Kind = "stdin"
	KindS3    Kind = "s3"
)

// Input is raw content plus a name usable as a format hint.
type Input struct {
	Name string
	Kind Kind
	Data []byte
}

// S3API is the subset of the S3 client used for reads.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Reader resolves input references.
type Reader struct {
	s3          S3API
	stdin       io.Reader
	logger      logger.Logger
	newS3       func(ctx context.Context) (S3API, error)
	allowedDirs []string
	maxBytes    int64
}

// Option configures a Reader.
type Option func(*Reader)

// WithS3Client sets the client used for s3:// references.
func WithS3Client(c S3API) Option {
	return func(r *Reader) {
		r.s3 = c
	}
}

// WithS3Endpoint makes the lazily built S3 client use a custom endpoint and
// region, for S3-compatible stores.
func WithS3Endpoint(region, endpoint string) Option {
	return func(r *Reader) {
		r.newS3 = func(ctx context.Context) (S3API, error) {
			return NewS3Client(ctx, region, endpoint)
		}
	}
}

// WithStdin replaces os.Stdin.
func WithStdin(in io.Reader) Option {
	return func(r *Reader) {
		r.stdin = in
	}
}

// WithMaxBytes caps input size.
func WithMaxBytes(n int64) Option {
	return func(r *Reader) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// WithAllowedDirs restricts local files to the given directories.
func WithAllowedDirs(dirs ...string) Option {
	return func(r *Reader) {
		r.allowedDirs = dirs
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reader) {
		r.logger = l
	}
}

// NewReader creates a Reader.
func NewReader(opts ...Option) *Reader {
	r := &Reader{
		stdin:    os.Stdin,
		logger:   logger.GetGlobalLogger(),
		maxBytes: DefaultMaxBytes,
		newS3: func(ctx context.Context) (S3API, error) {
			return NewS3Client(ctx, "", "")
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read returns the content named by ref: "-" for stdin, s3://bucket/key for an
// S3 object, anything else for a local file.
func (r *Reader) Read(ctx context.Context, ref string) (*Input, error) {
	switch {
	case ref == StdinRef:
		data, err := r.readAll(r.stdin)
		if err != nil {
			return nil, &AcquisitionError{Source: "stdin", Err: err}
		}
		return &Input{Name: StdinRef, Kind: KindStdin, Data: data}, nil
	case strings.HasPrefix(ref, s3Scheme):
		return r.readS3(ctx, ref)
	default:
		return r.readFile(ref)
	}
}

func (r *Reader) readFile(ref string) (*Input, error) {
	path, err := pathutil.ValidateInputPath(ref, r.allowedDirs...)
	if err != nil {
		return nil, &AcquisitionError{Source: ref, Err: err}
	}
	f, err := os.Open(path) //nolint:gosec // path validated above
	if err != nil {
		return nil, &AcquisitionError{Source: ref, Err: err}
	}
	defer func() { _ = f.Close() }()

	data, err := r.readAll(f)
	if err != nil {
		return nil, &AcquisitionError{Source: ref, Err: err}
	}
	r.logger.Debug("Read input file", "path", path, "bytes", len(data))
	return &Input{Name: path, Kind: KindFile, Data: data}, nil
}

func (r *Reader) readS3(ctx context.Context, ref string) (*Input, error) {
	bucket, key, err := ParseS3Ref(ref)
	if err != nil {
		return nil, &AcquisitionError{Source: ref, Err: err}
	}
	if r.s3 == nil {
		client, err := r.newS3(ctx)
		if err != nil {
			return nil, &AcquisitionError{Source: ref, Err: err}
		}
		r.s3 = client
	}

	out, err := r.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &AcquisitionError{Source: ref, Err: err}
	}
	defer func() { _ = out.Body.Close() }()

	data, err := r.readAll(out.Body)
	if err != nil {
		return nil, &AcquisitionError{Source: ref, Err: err}
	}
	r.logger.Debug("Read S3 object", "bucket", bucket, "key", key, "bytes", len(data))
	return &Input{Name: key, Kind: KindS3, Data: data}, nil
}

func (r *Reader) readAll(src io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(src, r.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("input exceeds %d bytes", r.maxBytes)
	}
	return data, nil
}

// ParseS3Ref splits s3://bucket/key.
func ParseS3Ref(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(ref, s3Scheme)
	if !ok {
		return "", "", fmt.Errorf("not an s3 reference: %s", ref)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 reference must be s3://bucket/key: %s", ref)
	}
	return bucket, key, nil
}

// NewS3Client builds an S3 client from the default AWS credential chain. A
// non-empty endpoint switches to path-style addressing for S3-compatible stores.
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
