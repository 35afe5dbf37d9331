package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/angelmondragon/events-collector/pkg/enums"
)

// Envelope is the wire contract every upstream producer publishes to the broker.
type Envelope struct {
	EventType    enums.AnalyticsEventType `json:"event_type" validate:"required"`
	EventVersion int                      `json:"event_version" validate:"required,gte=1"`
	EventID      EventID                  `json:"event_id" validate:"id"`
	OccurredAt   time.Time                `json:"occured_at" validate:"required"`
	Producer     string                   `json:"producer" validate:"required"`
	Payload      json.RawMessage          `json:"payload" validate:"required"`
}

type wireEnvelope struct {
	EventType    enums.AnalyticsEventType `json:"event_type"`
	EventVersion int                      `json:"event_version"`
	EventID      EventID                  `json:"event_id"`
	OccuredAt    *time.Time               `json:"occured_at"`
	OccurredAt   *time.Time               `json:"occurred_at"`
	Producer     string                   `json:"producer"`
	Payload      json.RawMessage          `json:"payload"`
}

// UnmarshalJSON accepts "occurred_at" when the canonical "occured_at" key is absent.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*e = Envelope{
		EventType:    wire.EventType,
		EventVersion: wire.EventVersion,
		EventID:      wire.EventID,
		Producer:     wire.Producer,
		Payload:      wire.Payload,
	}
	switch {
	case wire.OccuredAt != nil:
		e.OccurredAt = wire.OccuredAt.UTC()
	case wire.OccurredAt != nil:
		e.OccurredAt = wire.OccurredAt.UTC()
	}
	return nil
}

// HasObjectPayload reports whether the payload is a JSON object.
func (e Envelope) HasObjectPayload() bool {
	trimmed := bytes.TrimSpace(e.Payload)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// EventID is the producer-assigned identifier, used downstream as the natural dedup key.
type EventID uint64

// UnmarshalJSON accepts either a JSON number or a numeric string.
func (id *EventID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*id = 0
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		trimmed = []byte(raw)
	}
	parsed, err := strconv.ParseUint(string(trimmed), 10, 64)
	if err != nil {
		return fmt.Errorf("event_id must be an unsigned integer: %w", err)
	}
	*id = EventID(parsed)
	return nil
}

func (id EventID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}
