package report

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

var ErrBucketRequired = errors.New("report bucket is required")

// Uploader stores a finished workbook.
type Uploader interface {
	Upload(ctx context.Context, objectName string, data []byte) error
}

type GCSUploader struct {
	client *storage.Client
	bucket string
}

// NewGCSUploader uses application default credentials unless credentialsJSON
// is set.
func NewGCSUploader(ctx context.Context, bucket, credentialsJSON string) (*GCSUploader, error) {
	if bucket == "" {
		return nil, ErrBucketRequired
	}
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GCSUploader{client: client, bucket: bucket}, nil
}

func (u *GCSUploader) Upload(ctx context.Context, objectName string, data []byte) error {
	wc := u.client.Bucket(u.bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = ContentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("upload %s to gcs: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close gcs writer for %s: %w", objectName, err)
	}
	return nil
}

func (u *GCSUploader) Close() error {
	return u.client.Close()
}

// ObjectName is the storage key for a year's workbook.
func ObjectName(year int) string {
	return fmt.Sprintf("reports/winetours-%d.xlsx", year)
}
