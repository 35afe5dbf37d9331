package deadletter

import (
	"context"
	"errors"
	"fmt"
)

type messagePublisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error)
	Stop()
}

// PubSubSink publishes rejected messages to a Pub/Sub topic.
type PubSubSink struct {
	publisher messagePublisher
	closeFn   func() error
}

// NewPubSubSink wraps publisher. closeFn, when set, releases the owning client after the publisher stops.
func NewPubSubSink(publisher messagePublisher, closeFn func() error) (*PubSubSink, error) {
	if publisher == nil {
		return nil, errors.New("pubsub publisher required")
	}
	return &PubSubSink{publisher: publisher, closeFn: closeFn}, nil
}

func (s *PubSubSink) Publish(ctx context.Context, entry Entry) error {
	if _, err := s.publisher.Publish(ctx, entry.Value, entry.Attributes()); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

func (s *PubSubSink) Close() error {
	s.publisher.Stop()
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}
