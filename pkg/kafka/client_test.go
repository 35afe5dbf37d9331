package kafka

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/angelmondragon/events-collector/pkg/config"
	"github.com/angelmondragon/events-collector/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

func TestConsumerOptionsValidation(t *testing.T) {
	_, err := ConsumerOptions(config.KafkaConfig{Topics: "a", GroupID: "g"}, nil)
	assert.ErrorIs(t, err, errNoBrokers)

	_, err = ConsumerOptions(config.KafkaConfig{BootstrapServers: "k:9092", GroupID: "g"}, nil)
	assert.ErrorIs(t, err, errNoTopics)

	_, err = ConsumerOptions(config.KafkaConfig{BootstrapServers: "k:9092", Topics: "a"}, nil)
	assert.ErrorIs(t, err, errNoGroup)

	opts, err := ConsumerOptions(config.KafkaConfig{BootstrapServers: "k:9092", Topics: "a,b", GroupID: "g", ClientID: "c"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, opts)
}

func TestCommitResponseError(t *testing.T) {
	assert.NoError(t, CommitResponseError(nil))

	resp := kmsg.NewPtrOffsetCommitResponse()
	topic := kmsg.NewOffsetCommitResponseTopic()
	topic.Topic = "content-events"
	ok := kmsg.NewOffsetCommitResponseTopicPartition()
	ok.Partition = 0
	failed := kmsg.NewOffsetCommitResponseTopicPartition()
	failed.Partition = 1
	failed.ErrorCode = kerr.RebalanceInProgress.Code
	topic.Partitions = append(topic.Partitions, ok, failed)
	resp.Topics = append(resp.Topics, topic)

	err := CommitResponseError(resp)
	require.Error(t, err)
	assert.ErrorIs(t, err, kerr.RebalanceInProgress)
	assert.Contains(t, err.Error(), "content-events[1]")
}

func TestZerologAdapter(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.DebugLevel, Output: &buf})

	adapter := NewLogger(logg.Zerolog())
	assert.Equal(t, kgo.LogLevelDebug, adapter.Level())

	adapter.Log(kgo.LogLevelWarn, "heartbeat errored", "group", "events-consumer", "err", "boom")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "kafka", entry["component"])
	assert.Equal(t, "events-consumer", entry["group"])
	assert.Equal(t, "heartbeat errored", entry["message"])
}

func TestNilAdapterDropsLogs(t *testing.T) {
	adapter := NewLogger(nil)
	assert.Equal(t, kgo.LogLevelNone, adapter.Level())
	adapter.Log(kgo.LogLevelError, "ignored")
}

func TestLevelMapping(t *testing.T) {
	assert.Equal(t, kgo.LogLevelWarn, levelFromZerolog(zerolog.InfoLevel))
	assert.Equal(t, kgo.LogLevelError, levelFromZerolog(zerolog.ErrorLevel))
	assert.Equal(t, kgo.LogLevelNone, levelFromZerolog(zerolog.Disabled))
}
