package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/medreportflow/internal/models"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSStore reads and writes objects in Cloud Storage.
type GCSStore struct {
	client *storage.Client
}

func NewGCSStore(ctx context.Context) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &GCSStore{client: client}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Put writes data to bucket/name. Without Overwrite the write carries a
// DoesNotExist precondition and a taken name yields models.ErrObjectExists.
func (s *GCSStore) Put(ctx context.Context, bucket, name string, data []byte, opts models.PutOptions) error {
	obj := s.client.Bucket(bucket).Object(name)
	if !opts.Overwrite {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	writer := obj.NewWriter(ctx)
	writer.ContentType = opts.ContentType
	writer.Metadata = opts.Metadata

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return wrapWriteErr(bucket, name, err)
	}
	if err := writer.Close(); err != nil {
		return wrapWriteErr(bucket, name, err)
	}
	return nil
}

func wrapWriteErr(bucket, name string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("gs://%s/%s: %w", bucket, name, models.ErrObjectExists)
	}
	return fmt.Errorf("failed to write gs://%s/%s: %w", bucket, name, err)
}

// Get reads the object pinned to the generation its attributes describe, so
// content and metadata come from the same write.
func (s *GCSStore) Get(ctx context.Context, bucket, name string) (*models.Blob, error) {
	obj := s.client.Bucket(bucket).Object(name)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get attributes of gs://%s/%s: %w", bucket, name, err)
	}

	reader, err := obj.Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create reader for gs://%s/%s: %w", bucket, name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, name, err)
	}
	return &models.Blob{Data: data, Metadata: attrs.Metadata, Created: attrs.Created}, nil
}

// List returns the names of all objects under prefix.
func (s *GCSStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", bucket, prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}
