package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// field binds one dotted configuration key to its environment variables and
// its destination in RuntimeConfig.
type field struct {
	key string
	env []string
	set func(cfg *RuntimeConfig, raw string) error
}

func stringField(key string, dst func(*RuntimeConfig) *string, env ...string) field {
	return field{key: key, env: env, set: func(cfg *RuntimeConfig, raw string) error {
		*dst(cfg) = strings.TrimSpace(raw)
		return nil
	}}
}

func boolField(key string, dst func(*RuntimeConfig) *bool, env ...string) field {
	return field{key: key, env: env, set: func(cfg *RuntimeConfig, raw string) error {
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s: invalid bool %q", key, raw)
		}
		*dst(cfg) = v
		return nil
	}}
}

func intField(key string, dst func(*RuntimeConfig) *int, env ...string) field {
	return field{key: key, env: env, set: func(cfg *RuntimeConfig, raw string) error {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, raw)
		}
		*dst(cfg) = v
		return nil
	}}
}

func floatField(key string, dst func(*RuntimeConfig) *float64, env ...string) field {
	return field{key: key, env: env, set: func(cfg *RuntimeConfig, raw string) error {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("%s: invalid number %q", key, raw)
		}
		*dst(cfg) = v
		return nil
	}}
}

func durationField(key string, dst func(*RuntimeConfig) *time.Duration, env ...string) field {
	return field{key: key, env: env, set: func(cfg *RuntimeConfig, raw string) error {
		v, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", key, raw)
		}
		*dst(cfg) = v
		return nil
	}}
}

func listField(key string, dst func(*RuntimeConfig) *[]string, env ...string) field {
	return field{key: key, env: env, set: func(cfg *RuntimeConfig, raw string) error {
		var values []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				values = append(values, part)
			}
		}
		*dst(cfg) = values
		return nil
	}}
}

// fields lists every configurable key. Environment variables are tried in
// order; the first non-empty one wins.
var fields = []field{
	stringField("environment", func(c *RuntimeConfig) *string { return &c.Environment }, "SMSRELAY_ENV", "ENVIRONMENT", "NODE_ENV"),

	intField("server.port", func(c *RuntimeConfig) *int { return &c.Server.Port }, "SMSRELAY_PORT", "PORT"),
	listField("server.allowed_origins", func(c *RuntimeConfig) *[]string { return &c.Server.AllowedOrigins }, "SMSRELAY_ALLOWED_ORIGINS", "CORS_ALLOWED_ORIGINS"),
	stringField("server.public_url", func(c *RuntimeConfig) *string { return &c.Server.PublicURL }, "SMSRELAY_PUBLIC_URL", "PUBLIC_URL"),
	floatField("server.rate_limit_rps", func(c *RuntimeConfig) *float64 { return &c.Server.RateLimitRPS }, "SMSRELAY_RATE_LIMIT_RPS"),
	intField("server.rate_limit_burst", func(c *RuntimeConfig) *int { return &c.Server.RateLimitBurst }, "SMSRELAY_RATE_LIMIT_BURST"),
	durationField("server.shutdown_timeout", func(c *RuntimeConfig) *time.Duration { return &c.Server.ShutdownTimeout }, "SMSRELAY_SHUTDOWN_TIMEOUT"),

	stringField("storage.driver", func(c *RuntimeConfig) *string { return &c.Storage.Driver }, "SMSRELAY_STORAGE_DRIVER"),
	stringField("storage.dsn", func(c *RuntimeConfig) *string { return &c.Storage.DSN }, "SMSRELAY_DATABASE_URL", "DATABASE_URL"),
	stringField("storage.path", func(c *RuntimeConfig) *string { return &c.Storage.Path }, "SMSRELAY_STORAGE_PATH", "DATABASE_PATH"),

	stringField("twilio.account_sid", func(c *RuntimeConfig) *string { return &c.Twilio.AccountSID }, "SMSRELAY_TWILIO_ACCOUNT_SID", "TWILIO_ACCOUNT_SID"),
	stringField("twilio.auth_token", func(c *RuntimeConfig) *string { return &c.Twilio.AuthToken }, "SMSRELAY_TWILIO_AUTH_TOKEN", "TWILIO_AUTH_TOKEN"),
	boolField("twilio.validate_signature", func(c *RuntimeConfig) *bool { return &c.Twilio.ValidateSignature }, "SMSRELAY_TWILIO_VALIDATE_SIGNATURE", "TWILIO_VALIDATE_SIGNATURE"),
	stringField("twilio.status_callback_url", func(c *RuntimeConfig) *string { return &c.Twilio.StatusCallbackURL }, "SMSRELAY_TWILIO_STATUS_CALLBACK_URL", "TWILIO_STATUS_CALLBACK_URL"),
	boolField("twilio.mock", func(c *RuntimeConfig) *bool { return &c.Twilio.Mock }, "SMSRELAY_TWILIO_MOCK", "TWILIO_MOCK"),

	stringField("slack.bot_token", func(c *RuntimeConfig) *string { return &c.Slack.BotToken }, "SMSRELAY_SLACK_BOT_TOKEN", "SLACK_BOT_TOKEN"),
	stringField("slack.signing_secret", func(c *RuntimeConfig) *string { return &c.Slack.SigningSecret }, "SMSRELAY_SLACK_SIGNING_SECRET", "SLACK_SIGNING_SECRET"),
	stringField("slack.app_token", func(c *RuntimeConfig) *string { return &c.Slack.AppToken }, "SMSRELAY_SLACK_APP_TOKEN", "SLACK_APP_TOKEN"),
	boolField("slack.socket_mode", func(c *RuntimeConfig) *bool { return &c.Slack.SocketMode }, "SMSRELAY_SLACK_SOCKET_MODE", "SLACK_SOCKET_MODE"),

	boolField("salesforce.enabled", func(c *RuntimeConfig) *bool { return &c.Salesforce.Enabled }, "SMSRELAY_SALESFORCE_ENABLED", "SALESFORCE_ENABLED"),
	stringField("salesforce.login_url", func(c *RuntimeConfig) *string { return &c.Salesforce.LoginURL }, "SMSRELAY_SALESFORCE_LOGIN_URL", "SALESFORCE_LOGIN_URL"),
	stringField("salesforce.client_id", func(c *RuntimeConfig) *string { return &c.Salesforce.ClientID }, "SMSRELAY_SALESFORCE_CLIENT_ID", "SALESFORCE_CLIENT_ID"),
	stringField("salesforce.client_secret", func(c *RuntimeConfig) *string { return &c.Salesforce.ClientSecret }, "SMSRELAY_SALESFORCE_CLIENT_SECRET", "SALESFORCE_CLIENT_SECRET"),
	stringField("salesforce.username", func(c *RuntimeConfig) *string { return &c.Salesforce.Username }, "SMSRELAY_SALESFORCE_USERNAME", "SALESFORCE_USERNAME"),
	stringField("salesforce.password", func(c *RuntimeConfig) *string { return &c.Salesforce.Password }, "SMSRELAY_SALESFORCE_PASSWORD", "SALESFORCE_PASSWORD"),
	stringField("salesforce.security_token", func(c *RuntimeConfig) *string { return &c.Salesforce.SecurityToken }, "SMSRELAY_SALESFORCE_SECURITY_TOKEN", "SALESFORCE_SECURITY_TOKEN"),
	stringField("salesforce.api_version", func(c *RuntimeConfig) *string { return &c.Salesforce.APIVersion }, "SMSRELAY_SALESFORCE_API_VERSION", "SALESFORCE_API_VERSION"),
	stringField("salesforce.access_token", func(c *RuntimeConfig) *string { return &c.Salesforce.AccessToken }, "SMSRELAY_SALESFORCE_ACCESS_TOKEN", "SALESFORCE_ACCESS_TOKEN"),
	stringField("salesforce.instance_url", func(c *RuntimeConfig) *string { return &c.Salesforce.InstanceURL }, "SMSRELAY_SALESFORCE_INSTANCE_URL", "SALESFORCE_INSTANCE_URL"),

	stringField("queue.driver", func(c *RuntimeConfig) *string { return &c.Queue.Driver }, "SMSRELAY_QUEUE_DRIVER"),
	stringField("queue.redis_url", func(c *RuntimeConfig) *string { return &c.Queue.RedisURL }, "SMSRELAY_REDIS_URL", "REDIS_URL"),
	intField("queue.concurrency", func(c *RuntimeConfig) *int { return &c.Queue.Concurrency }, "SMSRELAY_QUEUE_CONCURRENCY"),

	intField("relay.recent_limit", func(c *RuntimeConfig) *int { return &c.Relay.HistoryLimit }, "SMSRELAY_RECENT_LIMIT"),
	intField("relay.home_limit", func(c *RuntimeConfig) *int { return &c.Relay.HomeLimit }, "SMSRELAY_HOME_LIMIT"),
	stringField("relay.reconcile_schedule", func(c *RuntimeConfig) *string { return &c.Relay.ReconcileSchedule }, "SMSRELAY_RECONCILE_SCHEDULE"),

	stringField("observability.log_level", func(c *RuntimeConfig) *string { return &c.Observability.LogLevel }, "SMSRELAY_LOG_LEVEL", "LOG_LEVEL"),
	stringField("observability.log_format", func(c *RuntimeConfig) *string { return &c.Observability.LogFormat }, "SMSRELAY_LOG_FORMAT"),
	boolField("observability.tracing_enabled", func(c *RuntimeConfig) *bool { return &c.Observability.TracingEnabled }, "SMSRELAY_TRACING_ENABLED"),
	stringField("observability.tracing_exporter", func(c *RuntimeConfig) *string { return &c.Observability.TracingExporter }, "SMSRELAY_TRACING_EXPORTER"),
	stringField("observability.tracing_endpoint", func(c *RuntimeConfig) *string { return &c.Observability.TracingEndpoint }, "SMSRELAY_TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"),
	floatField("observability.sample_rate", func(c *RuntimeConfig) *float64 { return &c.Observability.SampleRate }, "SMSRELAY_TRACING_SAMPLE_RATE"),
}

func lookupField(key string) (field, bool) {
	for _, f := range fields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}

// Keys returns every configurable dotted key.
func Keys() []string {
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.key
	}
	return keys
}
