package documentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Object stores have no real folders. A folder exists when any object lives
// below its prefix; creating one writes a zero-byte marker object.
const folderMarker = ".folder"

func folderPrefix(path string) string {
	return strings.TrimSuffix(path, "/") + "/"
}

func ptr[T any](v T) *T {
	return &v
}

// AzureBackend stores files as blobs of one container.
type AzureBackend struct {
	client    *azblob.Client
	container string
}

func NewAzureBackend(connectionString, container string) (*AzureBackend, error) {
	if connectionString == "" || container == "" {
		return nil, errors.New("azure connection string and container are required")
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureBackend{client: client, container: container}, nil
}

func (b *AzureBackend) FolderExists(ctx context.Context, path string) (bool, error) {
	pager := b.client.NewListBlobsFlatPager(b.container, &azblob.ListBlobsFlatOptions{
		Prefix:     ptr(folderPrefix(path)),
		MaxResults: ptr(int32(1)),
	})
	if !pager.More() {
		return false, nil
	}
	page, err := pager.NextPage(ctx)
	if err != nil {
		return false, fmt.Errorf("list blobs under %s: %w", path, err)
	}
	return page.Segment != nil && len(page.Segment.BlobItems) > 0, nil
}

func (b *AzureBackend) CreateFolder(ctx context.Context, path string) error {
	_, err := b.client.UploadBuffer(ctx, b.container, folderPrefix(path)+folderMarker, []byte{}, nil)
	return err
}

func (b *AzureBackend) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	opts := &azblob.UploadBufferOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: ptr(contentType)}
	}
	if _, err := b.client.UploadBuffer(ctx, b.container, path, data, opts); err != nil {
		return "", err
	}
	return joinURL(b.client.URL(), b.container, path), nil
}

// S3Backend stores files as objects of one bucket. A custom endpoint
// switches to path-style addressing for S3-compatible stores.
type S3Backend struct {
	client   *s3.Client
	bucket   string
	region   string
	endpoint string
}

func NewS3Backend(cfg Config) (*S3Backend, error) {
	if cfg.Container == "" || cfg.S3Region == "" {
		return nil, errors.New("s3 bucket and region are required")
	}
	opts := s3.Options{Region: cfg.S3Region}
	if cfg.S3AccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")
	}
	endpoint := strings.TrimRight(cfg.S3Endpoint, "/")
	if endpoint != "" {
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return &S3Backend{
		client:   s3.New(opts),
		bucket:   cfg.Container,
		region:   cfg.S3Region,
		endpoint: endpoint,
	}, nil
}

func (b *S3Backend) FolderExists(ctx context.Context, path string) (bool, error) {
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(folderPrefix(path)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("list objects under %s: %w", path, err)
	}
	return len(out.Contents) > 0, nil
}

func (b *S3Backend) CreateFolder(ctx context.Context, path string) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(folderPrefix(path)),
		Body:   bytes.NewReader(nil),
	})
	return err
}

func (b *S3Backend) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return "", err
	}
	if b.endpoint != "" {
		return joinURL(b.endpoint, b.bucket, path), nil
	}
	return joinURL(fmt.Sprintf("https://%s.s3.%s.amazonaws.com", b.bucket, b.region), path), nil
}

// GCSBackend stores files as objects of one Cloud Storage bucket.
type GCSBackend struct {
	client *storage.Client
	bucket string
}

// NewGCSBackend uses the service account key file when given, otherwise
// application default credentials.
func NewGCSBackend(ctx context.Context, credentialsFile, bucket string) (*GCSBackend, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSBackend{client: client, bucket: bucket}, nil
}

func (b *GCSBackend) FolderExists(ctx context.Context, path string) (bool, error) {
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: folderPrefix(path)})
	_, err := it.Next()
	switch {
	case errors.Is(err, iterator.Done):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("list objects under %s: %w", path, err)
	default:
		return true, nil
	}
}

func (b *GCSBackend) CreateFolder(ctx context.Context, path string) error {
	return b.write(ctx, folderPrefix(path)+folderMarker, nil, "")
}

func (b *GCSBackend) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := b.write(ctx, path, data, contentType); err != nil {
		return "", err
	}
	return joinURL("https://storage.googleapis.com", b.bucket, path), nil
}

func (b *GCSBackend) write(ctx context.Context, path string, data []byte, contentType string) error {
	w := b.client.Bucket(b.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
