package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/storage"
)

const (
	backendName = "s3"

	// maxDeleteBatch is the DeleteObjects request limit
	maxDeleteBatch = 1000
)

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)
	PublicBaseURL   string // Optional URL prefix objects are served from

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Backend is an S3-compatible implementation of the simpleasset.ObjectStore interface
type Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	baseURL  string
	config   Config
}

// New creates a new S3-compatible storage backend
func New(config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			config.AccessKeyID,
			config.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)

	backend := &Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   config.Bucket,
		baseURL:  publicBaseURL(config),
		config:   config,
	}

	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return backend, nil
}

// publicBaseURL derives the URL objects are served from when none is
// configured.
func publicBaseURL(config Config) string {
	if config.PublicBaseURL != "" {
		return config.PublicBaseURL
	}
	if config.Endpoint != "" {
		if config.UsePathStyle {
			return strings.TrimRight(config.Endpoint, "/") + "/" + config.Bucket
		}
		if u, err := url.Parse(config.Endpoint); err == nil && u.Host != "" {
			return u.Scheme + "://" + config.Bucket + "." + u.Host
		}
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", config.Bucket, config.Region)
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}
	if !isNotFound(err) && errorCode(err) != "NoSuchBucket" {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	}
	if b.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	_, err = b.client.CreateBucket(ctx, createInput)
	if err != nil {
		switch errorCode(err) {
		case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// errorCode returns the S3 error code carried by err, if any
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	switch errorCode(err) {
	case "NotFound", "NoSuchKey":
		return true
	}
	return false
}

// classify maps SDK errors onto the package sentinels. Anything that is not
// a definite client error is treated as a transient store failure.
func classify(err error) error {
	if isNotFound(err) {
		return simpleasset.ErrObjectNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
		return err
	}
	return fmt.Errorf("%w: %v", simpleasset.ErrTransientIO, err)
}

// sse returns the encryption settings for new objects, or zero values when
// server-side encryption is disabled.
func (b *Backend) sse() (types.ServerSideEncryption, *string) {
	if !b.config.EnableSSE {
		return "", nil
	}
	switch b.config.SSEAlgorithm {
	case "AES256":
		return types.ServerSideEncryptionAes256, nil
	case "aws:kms":
		if b.config.SSEKMSKeyID != "" {
			return types.ServerSideEncryptionAwsKms, aws.String(b.config.SSEKMSKeyID)
		}
		return types.ServerSideEncryptionAwsKms, nil
	}
	return "", nil
}

// Upload uploads content to S3. Without Upsert an existing key is
// reported as simpleasset.ErrObjectExists.
func (b *Backend) Upload(ctx context.Context, path string, reader io.Reader, opts simpleasset.UploadOptions) error {
	if !opts.Upsert {
		_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(path),
		})
		if err == nil {
			return &simpleasset.StorageError{Backend: backendName, Key: path, Op: "upload", Err: simpleasset.ErrObjectExists}
		}
		if !isNotFound(err) {
			return &simpleasset.StorageError{Backend: backendName, Key: path, Op: "upload", Err: classify(err)}
		}
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
		Body:   reader,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}
	input.ServerSideEncryption, input.SSEKMSKeyId = b.sse()

	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return &simpleasset.StorageError{Backend: backendName, Key: path, Op: "upload", Err: classify(err)}
	}
	return nil
}

// Download downloads content directly from S3
func (b *Backend) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, &simpleasset.StorageError{Backend: backendName, Key: path, Op: "download", Err: classify(err)}
	}
	return result.Body, nil
}

// List pages through every key below prefix. Keys come back from S3 in
// name order, so a name-sorted listing stops as soon as Limit is reached.
func (b *Backend) List(ctx context.Context, prefix string, opts simpleasset.ListOptions) ([]simpleasset.ObjectEntry, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
	}
	if p := strings.Trim(prefix, "/"); p != "" {
		input.Prefix = aws.String(p + "/")
	}

	entries := make([]simpleasset.ObjectEntry, 0)
	stopEarly := opts.Limit > 0 && opts.SortBy != simpleasset.SortByUpdatedAt

	paginator := s3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &simpleasset.StorageError{Backend: backendName, Key: prefix, Op: "list", Err: classify(err)}
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			entries = append(entries, simpleasset.ObjectEntry{
				Path:        key,
				Name:        storage.NameOf(key),
				Size:        aws.ToInt64(obj.Size),
				ContentType: storage.ContentTypeFor(key),
				UpdatedAt:   aws.ToTime(obj.LastModified),
			})
		}
		if stopEarly && len(entries) >= opts.Limit {
			break
		}
	}
	return storage.ApplyListOptions(entries, opts), nil
}

// Remove deletes keys in batches. S3 treats deleting a missing key as a
// success, which matches the ObjectStore contract. Keys S3 refuses to delete,
// and every key of a batch whose request failed, are reported in a
// *simpleasset.RemoveError.
func (b *Backend) Remove(ctx context.Context, paths []string) error {
	failed := simpleasset.NewRemoveError(backendName)
	for start := 0; start < len(paths); start += maxDeleteBatch {
		batch := paths[start:min(start+maxDeleteBatch, len(paths))]

		ids := make([]types.ObjectIdentifier, 0, len(batch))
		for _, p := range batch {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(p)})
		}

		out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			err = classify(err)
			for _, p := range batch {
				failed.Add(p, &simpleasset.StorageError{Backend: backendName, Key: p, Op: "remove", Err: err})
			}
			continue
		}
		for _, e := range out.Errors {
			key := aws.ToString(e.Key)
			failed.Add(key, &simpleasset.StorageError{
				Backend: backendName,
				Key:     key,
				Op:      "remove",
				Err:     classify(&smithy.GenericAPIError{Code: aws.ToString(e.Code), Message: aws.ToString(e.Message), Fault: deleteFault(aws.ToString(e.Code))}),
			})
		}
	}
	return failed.ErrOrNil()
}

// deleteFault classifies a per-key DeleteObjects error code. Only throttling
// and internal errors are worth retrying.
func deleteFault(code string) smithy.ErrorFault {
	switch code {
	case "InternalError", "ServiceUnavailable", "SlowDown":
		return smithy.FaultServer
	}
	return smithy.FaultClient
}

// CopyObject copies an object inside the bucket without downloading it.
// The configured server-side encryption applies to the copy.
func (b *Backend) CopyObject(ctx context.Context, srcPath, dstPath string) error {
	input := &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(dstPath),
		CopySource: aws.String(b.bucket + "/" + srcPath),
	}
	input.ServerSideEncryption, input.SSEKMSKeyId = b.sse()
	if _, err := b.client.CopyObject(ctx, input); err != nil {
		return &simpleasset.StorageError{Backend: backendName, Key: srcPath, Op: "copy", Err: classify(err)}
	}
	return nil
}

// PublicURL returns the URL path is served from
func (b *Backend) PublicURL(path string) string {
	return storage.PublicURL(b.baseURL, path)
}
