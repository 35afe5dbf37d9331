package deadletter

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/events-collector/pkg/config"
	"github.com/angelmondragon/events-collector/pkg/kafka"
	"github.com/angelmondragon/events-collector/pkg/logger"
	"github.com/angelmondragon/events-collector/pkg/pubsub"
	"github.com/angelmondragon/events-collector/pkg/redis"
)

// Open builds the sink selected by DEADLETTER_DRIVER.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DeadLetter.Driver)) {
	case "", config.DeadLetterNone:
		return Nop{}, nil
	case config.DeadLetterKafka:
		producer, err := kafka.NewProducer(cfg.Kafka, logg)
		if err != nil {
			return nil, err
		}
		return kafkaSink(producer, cfg.DeadLetter.KafkaTopic)
	case config.DeadLetterRedis:
		client, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return nil, err
		}
		return redisSink(client, cfg.DeadLetter.RedisStream, cfg.DeadLetter.RedisMaxLen)
	case config.DeadLetterPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, []string{cfg.DeadLetter.PubSubTopic}, logg)
		if err != nil {
			return nil, err
		}
		publisher := client.Publisher(cfg.DeadLetter.PubSubTopic)
		if publisher == nil {
			_ = client.Close()
			return nil, fmt.Errorf("pubsub topic %q not configured", cfg.DeadLetter.PubSubTopic)
		}
		sink, err := NewPubSubSink(publisher, client.Close)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unsupported dead-letter driver %q", cfg.DeadLetter.Driver)
	}
}

// kafkaSink owns producer: it is closed when the sink cannot be built.
func kafkaSink(producer kafkaProducer, topic string) (Sink, error) {
	sink, err := NewKafkaSink(producer, topic)
	if err != nil {
		producer.Close()
		return nil, err
	}
	return sink, nil
}

func redisSink(client streamAdder, stream string, maxLen int64) (Sink, error) {
	sink, err := NewRedisSink(client, stream, maxLen)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return sink, nil
}
