// Package trigger decodes storage-change notifications into intake events.
package trigger

import (
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/medreportflow/internal/models"
)

// GCSEvent is the payload of a google.cloud.storage.object.v1.finalized event.
type GCSEvent struct {
	Bucket      string            `json:"bucket"`
	Name        string            `json:"name"`
	TimeCreated time.Time         `json:"timeCreated"`
	Metadata    map[string]string `json:"metadata"`
}

// FromCloudEvent decodes a Cloud Storage CloudEvent.
func FromCloudEvent(e cloudevents.Event) (models.IntakeEvent, error) {
	var gcsEvent GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		return models.IntakeEvent{}, fmt.Errorf("json.Unmarshal: %w", err)
	}
	if gcsEvent.Bucket == "" || gcsEvent.Name == "" {
		return models.IntakeEvent{}, fmt.Errorf("event %s has no bucket or object name", e.ID())
	}
	return models.IntakeEvent{
		Bucket:      gcsEvent.Bucket,
		Name:        gcsEvent.Name,
		TimeCreated: gcsEvent.TimeCreated,
		Metadata:    gcsEvent.Metadata,
	}, nil
}
