package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/medreportflow/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FirestoreIndex stores index records in one collection, keyed by their id.
type FirestoreIndex struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreIndex(client *firestore.Client, collection string) *FirestoreIndex {
	return &FirestoreIndex{client: client, collection: collection}
}

// Upsert replaces each record in full. A failure to queue or flush the batch
// is returned as an error; a write rejected for a single document is reported
// in that document's result.
func (f *FirestoreIndex) Upsert(ctx context.Context, records []models.IndexRecord) ([]models.UpsertResult, error) {
	bw := f.client.BulkWriter(ctx)
	coll := f.client.Collection(f.collection)

	keys := make([]string, len(records))
	jobs := make([]*firestore.BulkWriterJob, len(records))
	for i, rec := range records {
		key, _ := rec["id"].(string)
		if key == "" {
			bw.End()
			return nil, fmt.Errorf("record %d has no id", i)
		}
		job, err := bw.Set(coll.Doc(key), map[string]any(rec))
		if err != nil {
			bw.End()
			return nil, fmt.Errorf("failed to queue record %s: %w", key, err)
		}
		keys[i] = key
		jobs[i] = job
	}
	bw.End()

	results := make([]models.UpsertResult, len(records))
	for i, job := range jobs {
		results[i] = models.UpsertResult{Key: keys[i], Succeeded: true}
		if _, err := job.Results(); err != nil {
			if isTransportErr(err) {
				return nil, fmt.Errorf("firestore bulk write failed: %w", err)
			}
			results[i].Succeeded = false
			results[i].ErrorMessage = err.Error()
		}
	}
	return results, nil
}

func isTransportErr(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

// ListByUser returns the newest records uploaded by userID.
func (f *FirestoreIndex) ListByUser(ctx context.Context, userID string, limit int) ([]models.IndexRecord, error) {
	iter := f.client.Collection(f.collection).
		Where("user_id", "==", userID).
		OrderBy("upload_timestamp", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	records := []models.IndexRecord{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query %s for user %s: %w", f.collection, userID, err)
		}
		records = append(records, models.IndexRecord(doc.Data()))
	}
	return records, nil
}

// FirestoreRegistry resolves physician IDs against a collection whose document
// IDs are physician IDs and whose documents carry a "name" field.
type FirestoreRegistry struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreRegistry(client *firestore.Client, collection string) *FirestoreRegistry {
	return &FirestoreRegistry{client: client, collection: collection}
}

func (r *FirestoreRegistry) LookupPhysician(ctx context.Context, id string) (string, bool, error) {
	snap, err := r.client.Collection(r.collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up physician %s: %w", id, err)
	}
	name, _ := snap.Data()["name"].(string)
	if name == "" {
		return "", false, nil
	}
	return name, true, nil
}
