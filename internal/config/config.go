package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	HTTP      HTTP      `yaml:"http"`
	Transport Transport `yaml:"transport"`
	Sync      Sync      `yaml:"sync"`
	Identity  Identity  `yaml:"identity"`
	Notify    Notify    `yaml:"notify"`
	Events    Events    `yaml:"events"`
	Tracing   Tracing   `yaml:"tracing"`
	Log       Log       `yaml:"log"`
}

// HTTP holds the UI bridge listener configuration
type HTTP struct {
	Host            string        `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port            string        `yaml:"port" env:"PORT" env-default:"8083"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// Address returns the full listen address
func (h HTTP) Address() string {
	return h.Host + ":" + h.Port
}

// Transport holds the chat server websocket configuration
type Transport struct {
	URL          string        `yaml:"url" env:"CHAT_WS_URL" env-default:"ws://localhost:8080/ws"`
	QueueSize    int           `yaml:"queue_size" env:"CHAT_WS_QUEUE_SIZE" env-default:"64"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"CHAT_WS_WRITE_TIMEOUT" env-default:"10s"`
	PingInterval time.Duration `yaml:"ping_interval" env:"CHAT_WS_PING_INTERVAL" env-default:"30s"`
	AuthToken    string        `yaml:"auth_token" env:"CHAT_WS_TOKEN"`
}

// Sync holds the per-conversation timing configuration
type Sync struct {
	HistoryTimeout time.Duration `yaml:"history_timeout" env:"SYNC_HISTORY_TIMEOUT" env-default:"10s"`
	TypingWindow   time.Duration `yaml:"typing_window" env:"SYNC_TYPING_WINDOW" env-default:"1s"`
	NotifyTimeout  time.Duration `yaml:"notify_timeout" env:"SYNC_NOTIFY_TIMEOUT" env-default:"5s"`
}

// Identity holds the identity service configuration
type Identity struct {
	AuthAddr      string `yaml:"auth_addr" env:"AUTH_GRPC_ADDR"`
	ParticipantID string `yaml:"participant_id" env:"PARTICIPANT_ID"`
}

// Notify holds the notification dispatch configuration
type Notify struct {
	Backend      string `yaml:"backend" env:"NOTIFY_BACKEND" env-default:"noop"`
	AMQPURL      string `yaml:"amqp_url" env:"NOTIFY_AMQP_URL"`
	Exchange     string `yaml:"exchange" env:"NOTIFY_EXCHANGE" env-default:"notifications"`
	RoutingKey   string `yaml:"routing_key" env:"NOTIFY_ROUTING_KEY" env-default:"notifications.chat"`
	RedisAddr    string `yaml:"redis_addr" env:"NOTIFY_REDIS_ADDR" env-default:"localhost:6379"`
	RedisChannel string `yaml:"redis_channel" env:"NOTIFY_REDIS_CHANNEL" env-default:"chat_notifications"`
}

// Events holds the lifecycle and audit event exchange configuration
type Events struct {
	AMQPURL     string `yaml:"amqp_url" env:"RABBITMQ_URL"`
	Exchange    string `yaml:"exchange" env:"EVENTS_EXCHANGE" env-default:"chatsync.events"`
	Environment string `yaml:"environment" env:"ENVIRONMENT" env-default:"local"`
}

// Tracing holds OpenTelemetry exporter configuration
type Tracing struct {
	Endpoint    string `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"OTEL_SERVICE_NAME" env-default:"ride-chat-sync"`
}

// Log holds logger configuration
type Log struct {
	Level       string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT" env-default:"false"`
}

// MustLoad loads configuration from environment and exits on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Load reads configuration from the environment
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
