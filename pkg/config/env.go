package config

// EnvPrefix is only consulted as an override namespace; every field also resolves by its bare tag.
const EnvPrefix = "EVENTS"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"

	StoreDriverClickHouse = "clickhouse"
	StoreDriverBigQuery   = "bigquery"

	DeadLetterNone   = "none"
	DeadLetterKafka  = "kafka"
	DeadLetterRedis  = "redis"
	DeadLetterPubSub = "pubsub"
)

const (
	EnvAppEnv                = "APP_ENV"
	EnvKafkaBootstrapServers = "KAFKA_BOOTSTRAP_SERVERS"
	EnvKafkaGroupID          = "KAFKA_GROUP_ID"
	EnvKafkaTopics           = "KAFKA_TOPICS"
	EnvBatchSize             = "BATCH_SIZE"
	EnvBatchFlushInterval    = "BATCH_FLUSH_INTERVAL_SECONDS"
	EnvStoreDriver           = "STORE_DRIVER"
	EnvClickHouseHost        = "CLICKHOUSE_HOST"
	EnvClickHousePort        = "CLICKHOUSE_PORT"
	EnvClickHouseDatabase    = "CLICKHOUSE_DATABASE"
	EnvClickHouseWriterUser  = "CLICKHOUSE_USER_WRITER"
	EnvClickHouseWriterPass  = "CLICKHOUSE_PASSWORD_WRITER"
	EnvClickHouseReaderUser  = "CLICKHOUSE_USER_READER"
	EnvClickHouseReaderPass  = "CLICKHOUSE_PASSWORD_READER"
	EnvGCPProjectID          = "GCP_PROJECT_ID"
	EnvDeadLetterDriver      = "DEADLETTER_DRIVER"
	EnvDeadLetterPubSubTopic = "DEADLETTER_PUBSUB_TOPIC"
	EnvRedisURL              = "REDIS_URL"
)
