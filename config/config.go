package config

import "time"

type Config struct {
	AppName            string `env:"APP_NAME" env-default:"digital-specimen-processor"`
	Port               int    `env:"PORT" env-default:"3005"`
	LogLevel           string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs         bool   `env:"PRETTY_LOGS" env-default:"false"`
	StartupMaxAttempts int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL (Record Store)
	DatabaseDriver              string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                string        `env:"DB_HOST" env-default:""`
	DatabasePort                string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName            string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword            string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                string        `env:"DB_NAME" env-default:"specimen"`
	DatabaseSSLMode             string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion    uint          `env:"DB_MIGRATION_VERSION" env-default:"0"`

	// Search Index (Redis)
	SearchHost      string `env:"SEARCH_HOST" env-default:"localhost"`
	SearchPort      int    `env:"SEARCH_PORT" env-default:"6379"`
	SearchPassword  string `env:"SEARCH_PASSWORD" env-default:""`
	SearchDB        int    `env:"SEARCH_DB" env-default:"0"`
	SearchKeyPrefix string `env:"SEARCH_KEY_PREFIX" env-default:"specimen-index"`

	// Identifier Service
	HandleServiceURL     string        `env:"HANDLE_SERVICE_URL" env-default:"http://localhost:8090"`
	HandleServiceTimeout time.Duration `env:"HANDLE_SERVICE_TIMEOUT" env-default:"30s"`

	// Kafka Consumer
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaInputTopic      string   `env:"KAFKA_INPUT_TOPIC" env-default:"digital-specimen-events"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"specimen-processor"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`

	// Kafka Producer topics
	KafkaMediaRetryTopic string `env:"KAFKA_MEDIA_RETRY_TOPIC" env-default:"digital-media-events"`
	KafkaEventsTopic     string `env:"KAFKA_EVENTS_TOPIC" env-default:"record-events"`
	KafkaMasTopic        string `env:"KAFKA_MAS_TOPIC" env-default:"mas-job-requests"`
	KafkaDeadLetterTopic string `env:"KAFKA_DEAD_LETTER_TOPIC" env-default:"specimen-dead-letter"`

	// Kafka Producer settings
	KafkaBatchSize    int    `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int    `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int    `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Processing
	BatchSize      int           `env:"BATCH_SIZE" env-default:"500"`
	BatchTimeout   time.Duration `env:"BATCH_TIMEOUT" env-default:"2s"`
	NameCacheTTL   time.Duration `env:"NAME_CACHE_TTL" env-default:"10m"`
	NameCacheClear time.Duration `env:"NAME_CACHE_CLEAR_INTERVAL" env-default:"12h"`

	// Tracing
	TracingEnabled  bool   `env:"TRACING_ENABLED" env-default:"false"`
	TracingEndpoint string `env:"TRACING_ENDPOINT" env-default:"localhost:4317"`
	TracingInsecure bool   `env:"TRACING_INSECURE" env-default:"true"`
}
