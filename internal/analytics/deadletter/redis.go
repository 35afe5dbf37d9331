package deadletter

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type streamAdder interface {
	XAdd(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error)
	Close() error
}

// RedisSink appends rejected messages to a capped stream.
type RedisSink struct {
	client streamAdder
	stream string
	maxLen int64
}

func NewRedisSink(client streamAdder, stream string, maxLen int64) (*RedisSink, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if strings.TrimSpace(stream) == "" {
		return nil, errors.New("dead-letter stream required")
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}, nil
}

func (s *RedisSink) Publish(ctx context.Context, entry Entry) error {
	values := make(map[string]any, 10)
	for k, v := range entry.Attributes() {
		values[k] = v
	}
	values["value"] = string(entry.Value)
	if _, err := s.client.XAdd(ctx, s.stream, s.maxLen, values); err != nil {
		return fmt.Errorf("xadd dead letter to %s: %w", s.stream, err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
