package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App        AppConfig
	Kafka      KafkaConfig
	Batch      BatchConfig
	Store      StoreConfig
	ClickHouse ClickHouseConfig
	GCP        GCPConfig
	BigQuery   BigQueryConfig
	Writer     WriterConfig
	DeadLetter DeadLetterConfig
	Redis      RedisConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadStore reads only the app and ClickHouse settings, for tools that never talk to the broker.
func LoadStore() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg.App); err != nil {
		return nil, fmt.Errorf("parsing app config: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg.ClickHouse); err != nil {
		return nil, fmt.Errorf("parsing clickhouse config: %w", err)
	}
	if strings.TrimSpace(cfg.ClickHouse.Host) == "" {
		return nil, fmt.Errorf("%s is required", EnvClickHouseHost)
	}
	if strings.TrimSpace(cfg.ClickHouse.WriterUser) == "" {
		return nil, fmt.Errorf("%s is required", EnvClickHouseWriterUser)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"APP_ENV" default:"development"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"LOG_WARN_STACK" default:"false"`
	OpsAddr      string `envconfig:"OPS_ADDR" default:":8090"`
	AutoMigrate  bool   `envconfig:"AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type KafkaConfig struct {
	BootstrapServers string        `envconfig:"KAFKA_BOOTSTRAP_SERVERS" required:"true"`
	GroupID          string        `envconfig:"KAFKA_GROUP_ID" default:"events-consumer"`
	Topics           string        `envconfig:"KAFKA_TOPICS" required:"true"`
	ClientID         string        `envconfig:"KAFKA_CLIENT_ID" default:"events-collector"`
	PollTimeout      time.Duration `envconfig:"KAFKA_POLL_TIMEOUT" default:"1s"`
	SessionTimeout   time.Duration `envconfig:"KAFKA_SESSION_TIMEOUT" default:"10s"`
	RebalanceTimeout time.Duration `envconfig:"KAFKA_REBALANCE_TIMEOUT" default:"5m"`
	CommitTimeout    time.Duration `envconfig:"KAFKA_COMMIT_TIMEOUT" default:"10s"`
}

// Brokers returns the trimmed, non-empty bootstrap servers.
func (k KafkaConfig) Brokers() []string {
	return SplitList(k.BootstrapServers)
}

// TopicList returns the trimmed, non-empty subscribed topics.
func (k KafkaConfig) TopicList() []string {
	return SplitList(k.Topics)
}

type BatchConfig struct {
	Size                 int     `envconfig:"BATCH_SIZE" default:"500"`
	FlushIntervalSeconds float64 `envconfig:"BATCH_FLUSH_INTERVAL_SECONDS" default:"3.0"`
}

// FlushInterval converts the configured seconds into a duration.
func (b BatchConfig) FlushInterval() time.Duration {
	return time.Duration(b.FlushIntervalSeconds * float64(time.Second))
}

type StoreConfig struct {
	Driver string `envconfig:"STORE_DRIVER" default:"clickhouse"`
}

type ClickHouseConfig struct {
	Host               string        `envconfig:"CLICKHOUSE_HOST"`
	Port               int           `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	Database           string        `envconfig:"CLICKHOUSE_DATABASE" default:"analytics"`
	WriterUser         string        `envconfig:"CLICKHOUSE_USER_WRITER"`
	WriterPassword     string        `envconfig:"CLICKHOUSE_PASSWORD_WRITER"`
	ReaderUser         string        `envconfig:"CLICKHOUSE_USER_READER"`
	ReaderPassword     string        `envconfig:"CLICKHOUSE_PASSWORD_READER"`
	SendReceiveTimeout time.Duration `envconfig:"CLICKHOUSE_SEND_RECEIVE_TIMEOUT" default:"10s"`
}

// Addr returns host:port for the native protocol.
func (c ClickHouseConfig) Addr() string {
	return strings.TrimSpace(c.Host) + ":" + strconv.Itoa(c.Port)
}

type GCPConfig struct {
	ProjectID              string `envconfig:"GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type BigQueryConfig struct {
	Dataset string `envconfig:"BIGQUERY_DATASET" default:"analytics"`
}

type WriterConfig struct {
	MaxAttempts    int           `envconfig:"WRITER_MAX_ATTEMPTS" default:"3"`
	InitialBackoff time.Duration `envconfig:"WRITER_INITIAL_BACKOFF" default:"250ms"`
	MaximumBackoff time.Duration `envconfig:"WRITER_MAX_BACKOFF" default:"2s"`
}

type DeadLetterConfig struct {
	Driver      string `envconfig:"DEADLETTER_DRIVER" default:"none"`
	KafkaTopic  string `envconfig:"DEADLETTER_KAFKA_TOPIC" default:"events.deadletter"`
	RedisStream string `envconfig:"DEADLETTER_REDIS_STREAM" default:"events:deadletter"`
	RedisMaxLen int64  `envconfig:"DEADLETTER_REDIS_MAXLEN" default:"100000"`
	PubSubTopic string `envconfig:"DEADLETTER_PUBSUB_TOPIC"`

	PublishTimeout time.Duration `envconfig:"DEADLETTER_PUBLISH_TIMEOUT" default:"5s"`
}

type RedisConfig struct {
	URL          string        `envconfig:"REDIS_URL"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"5s"`
}

// SplitList splits a comma separated value, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) validate() error {
	if len(c.Kafka.Brokers()) == 0 {
		return fmt.Errorf("%s must list at least one broker", EnvKafkaBootstrapServers)
	}
	if len(c.Kafka.TopicList()) == 0 {
		return fmt.Errorf("%s must list at least one topic", EnvKafkaTopics)
	}
	if c.Batch.Size <= 0 {
		return fmt.Errorf("%s must be positive", EnvBatchSize)
	}
	if c.Batch.FlushIntervalSeconds <= 0 {
		return fmt.Errorf("%s must be positive", EnvBatchFlushInterval)
	}

	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case StoreDriverClickHouse:
		if strings.TrimSpace(c.ClickHouse.Host) == "" {
			return fmt.Errorf("%s is required for the clickhouse store", EnvClickHouseHost)
		}
		if strings.TrimSpace(c.ClickHouse.WriterUser) == "" {
			return fmt.Errorf("%s is required for the clickhouse store", EnvClickHouseWriterUser)
		}
	case StoreDriverBigQuery:
		if strings.TrimSpace(c.GCP.ProjectID) == "" {
			return fmt.Errorf("%s is required for the bigquery store", EnvGCPProjectID)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvStoreDriver, c.Store.Driver)
	}

	switch strings.ToLower(strings.TrimSpace(c.DeadLetter.Driver)) {
	case "", DeadLetterNone:
	case DeadLetterKafka:
		if strings.TrimSpace(c.DeadLetter.KafkaTopic) == "" {
			return errors.New("dead-letter kafka topic is required")
		}
	case DeadLetterRedis:
		if strings.TrimSpace(c.Redis.URL) == "" {
			return fmt.Errorf("%s is required for the redis dead-letter sink", EnvRedisURL)
		}
	case DeadLetterPubSub:
		if strings.TrimSpace(c.GCP.ProjectID) == "" || strings.TrimSpace(c.DeadLetter.PubSubTopic) == "" {
			return fmt.Errorf("%s and %s are required for the pubsub dead-letter sink", EnvGCPProjectID, EnvDeadLetterPubSubTopic)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvDeadLetterDriver, c.DeadLetter.Driver)
	}
	return nil
}
