// Package events publishes store upserts to Kafka.
package events

import (
	"encoding/json"
	"time"
)

// DefaultTopic receives every upsert notification.
const DefaultTopic = "trainingbook.entity.upserted.v1"

// EntityUpserted is emitted after a record has been written to the document.
type EntityUpserted struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Class      string          `json:"class"`
	Module     string          `json:"module"`
	Record     json.RawMessage `json:"record"`
	UpsertedAt time.Time       `json:"upserted_at"`
}
