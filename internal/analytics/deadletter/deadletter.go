package deadletter

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Entry is one rejected message, kept byte-for-byte alongside where it came from and why it was dropped.
type Entry struct {
	ID           string    `json:"id"`
	Reason       string    `json:"reason"`
	Stage        string    `json:"stage,omitempty"`
	Error        string    `json:"error"`
	Topic        string    `json:"topic"`
	Partition    int32     `json:"partition"`
	Offset       int64     `json:"offset"`
	EventType    string    `json:"event_type,omitempty"`
	EventVersion int       `json:"event_version,omitempty"`
	Value        []byte    `json:"value"`
	FailedAt     time.Time `json:"failed_at"`
}

// NewEntry stamps a fresh id and failure time.
func NewEntry(reason, topic string, partition int32, offset int64, value []byte, cause error) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		Reason:    reason,
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Value:     append([]byte(nil), value...),
		FailedAt:  time.Now().UTC(),
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	return e
}

// Attributes flattens the entry metadata into string pairs for header-style transports.
func (e Entry) Attributes() map[string]string {
	attrs := map[string]string{
		"id":        e.ID,
		"reason":    e.Reason,
		"error":     e.Error,
		"topic":     e.Topic,
		"partition": strconv.FormatInt(int64(e.Partition), 10),
		"offset":    strconv.FormatInt(e.Offset, 10),
		"failed_at": e.FailedAt.Format(time.RFC3339Nano),
	}
	if e.Stage != "" {
		attrs["stage"] = e.Stage
	}
	if e.EventType != "" {
		attrs["event_type"] = e.EventType
		attrs["event_version"] = strconv.Itoa(e.EventVersion)
	}
	return attrs
}

// Sink receives messages the pipeline could not turn into rows.
type Sink interface {
	Publish(ctx context.Context, entry Entry) error
	Close() error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Publish(context.Context, Entry) error { return nil }

func (Nop) Close() error { return nil }
