package s3compat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Lllllllleong/medreportflow/internal/models"
)

const storageTimeout = 30 * time.Second

// Store keeps objects in an S3-compatible service such as MinIO.
type Store struct {
	client *minio.Client
}

func NewStore(endpoint, accessKey, secretKey string, secure bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}
	return &Store{client: client}, nil
}

// Put writes data to bucket/name. Create-only writes are checked with a stat
// first; two concurrent writers of the same name can both pass the check, so
// callers must choose unique names.
func (s *Store) Put(ctx context.Context, bucket, name string, data []byte, opts models.PutOptions) error {
	ctx, cancel := context.WithTimeout(ctx, storageTimeout)
	defer cancel()

	if !opts.Overwrite {
		exists, err := s.exists(ctx, bucket, name)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("s3://%s/%s: %w", bucket, name, models.ErrObjectExists)
		}
	}

	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, bucket, name, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to write s3://%s/%s: %w", bucket, name, err)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, bucket, name string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, name, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat s3://%s/%s: %w", bucket, name, err)
}

// Get reads content and user metadata. Metadata keys are lower-cased because
// the service returns them in canonical header form.
func (s *Store) Get(ctx context.Context, bucket, name string) (*models.Blob, error) {
	obj, err := s.client.GetObject(ctx, bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open s3://%s/%s: %w", bucket, name, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat s3://%s/%s: %w", bucket, name, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, name, err)
	}

	meta := make(map[string]string, len(info.UserMetadata))
	for k, v := range info.UserMetadata {
		meta[strings.ToLower(k)] = v
	}
	return &models.Blob{Data: data, Metadata: meta, Created: info.LastModified}, nil
}

func (s *Store) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var names []string
	for info := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, info.Err)
		}
		names = append(names, info.Key)
	}
	return names, nil
}
