package deadletter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
)

type kafkaProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

var _ kafkaProducer = (*kgo.Client)(nil)

// KafkaSink produces rejected messages to a dead-letter topic. The original value is the record
// value and the metadata travels in headers.
type KafkaSink struct {
	producer kafkaProducer
	topic    string
}

func NewKafkaSink(producer kafkaProducer, topic string) (*KafkaSink, error) {
	if producer == nil {
		return nil, errors.New("kafka producer required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("dead-letter topic required")
	}
	return &KafkaSink{producer: producer, topic: topic}, nil
}

func (s *KafkaSink) Publish(ctx context.Context, entry Entry) error {
	record := &kgo.Record{
		Topic:   s.topic,
		Key:     []byte(fmt.Sprintf("%s/%d/%d", entry.Topic, entry.Partition, entry.Offset)),
		Value:   entry.Value,
		Headers: headers(entry.Attributes()),
	}
	if err := s.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce dead letter to %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	s.producer.Close()
	return nil
}

func headers(attrs map[string]string) []kgo.RecordHeader {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]kgo.RecordHeader, 0, len(keys))
	for _, k := range keys {
		out = append(out, kgo.RecordHeader{Key: k, Value: []byte(attrs[k])})
	}
	return out
}
