package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Lllllllleong/medreportflow/internal/models"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string]*models.Blob
	getErr  error
	putErr  error
	gets    int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string]*models.Blob{}}
}

func (m *memBlobs) add(bucket, name string, data []byte, meta map[string]string) {
	m.objects[bucket+"/"+name] = &models.Blob{Data: data, Metadata: meta, Created: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (m *memBlobs) Put(ctx context.Context, bucket, name string, data []byte, opts models.PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.putErr != nil {
		return m.putErr
	}
	key := bucket + "/" + name
	if _, ok := m.objects[key]; ok && !opts.Overwrite {
		return models.ErrObjectExists
	}
	m.objects[key] = &models.Blob{Data: data, Metadata: opts.Metadata}
	return nil
}

func (m *memBlobs) Get(_ context.Context, bucket, name string) (*models.Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	b, ok := m.objects[bucket+"/"+name]
	if !ok {
		return nil, fmt.Errorf("%s/%s: not found", bucket, name)
	}
	return b, nil
}

func (m *memBlobs) List(context.Context, string, string) ([]string, error) {
	return nil, errors.New("not implemented")
}

type fakeAnalyzer struct {
	result *models.AnalyzeResult
	err    error
	panic  any
	// block makes Analyze wait for ctx to end, like a call that hangs.
	block bool
	calls int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, _ string, _ []byte) (*models.AnalyzeResult, error) {
	f.calls++
	if f.panic != nil {
		panic(f.panic)
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.result, f.err
}

type memIndex struct {
	mu        sync.Mutex
	records   map[string]models.IndexRecord
	upserts   int
	err       error
	rejection string
}

func newMemIndex() *memIndex {
	return &memIndex{records: map[string]models.IndexRecord{}}
}

func (m *memIndex) Upsert(_ context.Context, records []models.IndexRecord) ([]models.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.err != nil {
		return nil, m.err
	}
	results := make([]models.UpsertResult, 0, len(records))
	for _, rec := range records {
		key, _ := rec["id"].(string)
		if m.rejection != "" {
			results = append(results, models.UpsertResult{Key: key, ErrorMessage: m.rejection})
			continue
		}
		m.records[key] = rec
		results = append(results, models.UpsertResult{Key: key, Succeeded: true})
	}
	return results, nil
}

func (m *memIndex) ListByUser(context.Context, string, int) ([]models.IndexRecord, error) {
	return nil, errors.New("not implemented")
}

type failingRegistry struct{}

func (failingRegistry) LookupPhysician(context.Context, string) (string, bool, error) {
	return "", false, errors.New("registry unavailable")
}

func strPtr(s string) *string { return &s }
