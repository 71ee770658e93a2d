// Package config loads the relay runtime configuration from defaults, an
// optional YAML file, the environment and caller overrides, in that order.
package config

import (
	"time"
)

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageMemory   = "memory"
	StorageFile     = "file"
)

// Queue drivers.
const (
	QueueInline = "inline"
	QueueAsynq  = "asynq"
)

// RuntimeConfig is the resolved process configuration.
type RuntimeConfig struct {
	Environment   string
	Server        ServerConfig
	Storage       StorageConfig
	Twilio        TwilioConfig
	Slack         SlackConfig
	Salesforce    SalesforceConfig
	Queue         QueueConfig
	Relay         RelayConfig
	Observability ObservabilityConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port           int
	AllowedOrigins []string
	// PublicURL is the externally visible base url used for webhook
	// signature checks and the carrier status callback.
	PublicURL       string
	RateLimitRPS    float64
	RateLimitBurst  int
	ShutdownTimeout time.Duration
}

// StorageConfig selects the durable store.
type StorageConfig struct {
	Driver string
	DSN    string
	Path   string
}

// TwilioConfig holds carrier credentials.
type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	ValidateSignature bool
	StatusCallbackURL string
	// Mock accepts every send without calling the carrier.
	Mock bool
}

// SlackConfig holds chat app credentials.
type SlackConfig struct {
	BotToken      string
	SigningSecret string
	AppToken      string
	SocketMode    bool
}

// SalesforceConfig holds CRM credentials.
type SalesforceConfig struct {
	Enabled       bool
	LoginURL      string
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	SecurityToken string
	APIVersion    string
	AccessToken   string
	InstanceURL   string
}

// QueueConfig selects the task queue.
type QueueConfig struct {
	Driver      string
	RedisURL    string
	Concurrency int
}

// RelayConfig tunes the relay engine.
type RelayConfig struct {
	HistoryLimit      int
	HomeLimit         int
	ReconcileSchedule string
}

// ObservabilityConfig configures logs and traces.
type ObservabilityConfig struct {
	LogLevel        string
	LogFormat       string
	TracingEnabled  bool
	TracingExporter string
	TracingEndpoint string
	SampleRate      float64
}

// Defaults returns the built-in configuration.
func Defaults() RuntimeConfig {
	return RuntimeConfig{
		Environment: "development",
		Server: ServerConfig{
			Port:            3000,
			AllowedOrigins:  []string{"*"},
			RateLimitRPS:    5,
			RateLimitBurst:  10,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Driver: StorageSQLite,
			Path:   "./data/sms_conversations.db",
		},
		Twilio: TwilioConfig{
			ValidateSignature: true,
		},
		Salesforce: SalesforceConfig{
			LoginURL:   "https://login.salesforce.com",
			APIVersion: "v59.0",
		},
		Queue: QueueConfig{
			Driver:      QueueInline,
			Concurrency: 10,
		},
		Relay: RelayConfig{
			HistoryLimit:      5,
			HomeLimit:         10,
			ReconcileSchedule: "@every 5m",
		},
		Observability: ObservabilityConfig{
			LogLevel:        "info",
			LogFormat:       "text",
			TracingExporter: "otlp",
			SampleRate:      1.0,
		},
	}
}

// Metadata contains provenance details for loaded configuration.
type Metadata struct {
	sources  map[string]ValueSource
	loadedAt time.Time
}

// Sources returns a copy of the provenance map.
func (m Metadata) Sources() map[string]ValueSource {
	copy := make(map[string]ValueSource, len(m.sources))
	for key, value := range m.sources {
		copy[key] = value
	}
	return copy
}

// Source returns the origin for the given dotted field name.
func (m Metadata) Source(field string) ValueSource {
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

// LoadedAt returns the timestamp when the configuration was constructed.
func (m Metadata) LoadedAt() time.Time {
	return m.loadedAt
}

// Overrides maps dotted field names (for example "server.port") to raw values
// that win over every other source.
type Overrides map[string]string

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)
