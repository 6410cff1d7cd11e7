package trigger

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Lllllllleong/medreportflow/internal/models"
)

const userMetadataPrefix = "x-amz-meta-"

// S3Notification is the bucket notification body MinIO publishes.
type S3Notification struct {
	EventName string     `json:"EventName"`
	Key       string     `json:"Key"`
	Records   []S3Record `json:"Records"`
}

type S3Record struct {
	EventName string    `json:"eventName"`
	EventTime time.Time `json:"eventTime"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key          string            `json:"key"`
			Size         int64             `json:"size"`
			UserMetadata map[string]string `json:"userMetadata"`
		} `json:"object"`
	} `json:"s3"`
}

// FromS3Notification returns one intake event per object-created record.
// Other records are skipped.
func FromS3Notification(body []byte) ([]models.IntakeEvent, error) {
	var n S3Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("json.Unmarshal: %w", err)
	}

	var events []models.IntakeEvent
	for _, rec := range n.Records {
		if !strings.HasPrefix(rec.EventName, "s3:ObjectCreated:") {
			continue
		}
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("invalid object key %q: %w", rec.S3.Object.Key, err)
		}
		events = append(events, models.IntakeEvent{
			Bucket:      rec.S3.Bucket.Name,
			Name:        key,
			TimeCreated: rec.EventTime,
			Metadata:    userMetadata(rec.S3.Object.UserMetadata),
		})
	}
	return events, nil
}

// userMetadata strips the x-amz-meta- prefix and lower-cases keys. Entries
// without the prefix (content-type and the like) are dropped.
func userMetadata(raw map[string]string) map[string]string {
	meta := make(map[string]string, len(raw))
	for k, v := range raw {
		lower := strings.ToLower(k)
		if !strings.HasPrefix(lower, userMetadataPrefix) {
			continue
		}
		meta[strings.TrimPrefix(lower, userMetadataPrefix)] = v
	}
	return meta
}
