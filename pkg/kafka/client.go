package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/events-collector/pkg/config"
	"github.com/angelmondragon/events-collector/pkg/logger"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"go.uber.org/multierr"
)

const (
	producerLinger = 5 * time.Millisecond

	// franz-go retries a record forever by default; dead letters give up instead.
	producerDeliveryTimeout = 10 * time.Second
)

var (
	errNoBrokers = errors.New("kafka bootstrap servers are required")
	errNoTopics  = errors.New("kafka topics are required")
	errNoGroup   = errors.New("kafka group id is required")
)

// ConsumerOptions builds the group consumer configuration. Offsets are committed manually
// and only after the rows they cover are durable, so autocommit is disabled.
func ConsumerOptions(cfg config.KafkaConfig, logg *logger.Logger) ([]kgo.Opt, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}
	topics := cfg.TopicList()
	if len(topics) == 0 {
		return nil, errNoTopics
	}
	if cfg.GroupID == "" {
		return nil, errNoGroup
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.OnPartitionsAssigned(func(ctx context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logPartitions(ctx, logg, "assigned partitions", assigned)
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, _ *kgo.Client, revoked map[string][]int32) {
			logPartitions(ctx, logg, "revoked partitions", revoked)
		}),
	}
	if cfg.SessionTimeout > 0 {
		opts = append(opts, kgo.SessionTimeout(cfg.SessionTimeout))
	}
	if cfg.RebalanceTimeout > 0 {
		opts = append(opts, kgo.RebalanceTimeout(cfg.RebalanceTimeout))
	}
	if logg != nil {
		opts = append(opts, kgo.WithLogger(NewLogger(logg.Zerolog())))
	}
	return opts, nil
}

// NewConsumer creates the group consumer.
func NewConsumer(cfg config.KafkaConfig, logg *logger.Logger) (*kgo.Client, error) {
	opts, err := ConsumerOptions(cfg, logg)
	if err != nil {
		return nil, err
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating kafka consumer: %w", err)
	}
	return client, nil
}

// NewProducer creates a plain producer sharing the consumer's brokers, used for dead-lettering.
func NewProducer(cfg config.KafkaConfig, logg *logger.Logger) (*kgo.Client, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(cfg.ClientID + "-deadletter"),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(producerLinger),
		kgo.RecordDeliveryTimeout(producerDeliveryTimeout),
	}
	if logg != nil {
		opts = append(opts, kgo.WithLogger(NewLogger(logg.Zerolog())))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return client, nil
}

// CommitResponseError folds per-partition commit errors into one error.
func CommitResponseError(resp *kmsg.OffsetCommitResponse) error {
	if resp == nil {
		return nil
	}
	var errs []error
	for _, topic := range resp.Topics {
		for _, partition := range topic.Partitions {
			if err := kerr.ErrorForCode(partition.ErrorCode); err != nil {
				errs = append(errs, fmt.Errorf("%s[%d]: %w", topic.Topic, partition.Partition, err))
			}
		}
	}
	return multierr.Combine(errs...)
}

// Ping issues a metadata request against the seed brokers.
func Ping(ctx context.Context, client *kgo.Client) error {
	if client == nil {
		return errors.New("kafka client not initialized")
	}
	return client.Ping(ctx)
}

func logPartitions(ctx context.Context, logg *logger.Logger, msg string, partitions map[string][]int32) {
	if logg == nil || len(partitions) == 0 {
		return
	}
	logg.Info(logg.WithField(ctx, "partitions", partitions), msg)
}
