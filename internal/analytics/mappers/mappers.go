package mappers

import (
	"fmt"
	"time"

	"github.com/angelmondragon/events-collector/internal/analytics/types"
)

// Mapper turns a validated payload into a row in destination-table column order.
// producedAt is the envelope occured_at. Mappers are pure and never validate.
type Mapper func(producedAt time.Time, eventID types.EventID, payload any) (types.Row, error)

// envelopeColumns lead every analytics table.
var envelopeColumns = []string{"event_occurred_at", "produced_at", "event_id"}

func columns(fields ...string) []string {
	out := make([]string, 0, len(envelopeColumns)+len(fields))
	out = append(out, envelopeColumns...)
	return append(out, fields...)
}

func row(occurredAt, producedAt time.Time, eventID types.EventID, fields ...any) types.Row {
	out := make(types.Row, 0, len(envelopeColumns)+len(fields))
	out = append(out, occurredAt.UTC(), producedAt.UTC(), uint64(eventID))
	return append(out, fields...)
}

// value reads a presence-checked payload field; validation guarantees it is set.
func value[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

func payloadAs[T any](payload any) (*T, error) {
	switch p := payload.(type) {
	case *T:
		if p == nil {
			return nil, fmt.Errorf("nil %T payload", p)
		}
		return p, nil
	case T:
		return &p, nil
	default:
		var zero T
		return nil, fmt.Errorf("expected %T payload, got %T", zero, payload)
	}
}
