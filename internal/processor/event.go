package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// InboundEvent is one parsed AEM asset-change notification. It is
// read-only for the lifetime of the request that produced it.
type InboundEvent struct {
	EventType string
	Timestamp string
	AssetPath string
	Metadata  map[string]any

	// Raw keeps the original body for the failed-event archive.
	Raw []byte
}

// envelope mirrors the AEM eventing wire format.
type envelope struct {
	EventType string `json:"event_type"`
	Data      struct {
		Timestamp string `json:"timestamp"`
		Payload   struct {
			Path     string         `json:"path"`
			Metadata map[string]any `json:"metadata"`
		} `json:"payload"`
	} `json:"data"`
}

// ErrMalformedEvent marks payloads the boundary should reject with 400.
var ErrMalformedEvent = errors.New("processor: malformed event payload")

// ParseEvent decodes a raw webhook body into an InboundEvent. Both the
// HTTP server and the action adapter feed their bodies through here.
func ParseEvent(raw []byte) (*InboundEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.EventType == "" {
		return nil, fmt.Errorf("%w: missing event_type", ErrMalformedEvent)
	}
	return &InboundEvent{
		EventType: env.EventType,
		Timestamp: env.Data.Timestamp,
		AssetPath: env.Data.Payload.Path,
		Metadata:  env.Data.Payload.Metadata,
		Raw:       raw,
	}, nil
}

// SyncOutcomeEvent is published to Kafka after each terminal outcome so
// downstream consumers can audit or replay the sync stream.
type SyncOutcomeEvent struct {
	ID         string    `json:"id"`
	AssetID    string    `json:"asset_id"`
	AssetPath  string    `json:"asset_path"`
	EventType  string    `json:"event_type"`
	Status     string    `json:"status"`
	TargetID   string    `json:"target_id,omitempty"`
	Retryable  bool      `json:"retryable,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
