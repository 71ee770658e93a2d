package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Option customizes Load.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	configPath string
	readFile   func(string) ([]byte, error)
	overrides  Overrides
}

// WithEnv replaces the environment lookup.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		o.envLookup = lookup
	}
}

// WithOverrides applies caller values last.
func WithOverrides(overrides Overrides) Option {
	return func(o *loadOptions) {
		o.overrides = overrides
	}
}

// WithConfigPath reads the YAML file at path instead of resolving it from
// SMSRELAY_CONFIG.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) {
		o.configPath = path
	}
}

// WithFileReader replaces os.ReadFile.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) {
		o.readFile = reader
	}
}

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapEnvLookup resolves variables from a fixed map.
func MapEnvLookup(values map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// replacing variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load resolves the runtime configuration.
func Load(opts ...Option) (RuntimeConfig, Metadata, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.envLookup == nil {
		options.envLookup = DefaultEnvLookup
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}
	cfg := Defaults()

	if err := applyFile(&cfg, &meta, options); err != nil {
		return RuntimeConfig{}, Metadata{}, err
	}
	if err := applyEnv(&cfg, &meta, options.envLookup); err != nil {
		return RuntimeConfig{}, Metadata{}, err
	}
	if err := applyOverrides(&cfg, &meta, options.overrides); err != nil {
		return RuntimeConfig{}, Metadata{}, err
	}

	normalizeRuntimeConfig(&cfg, meta)
	if err := cfg.Validate(); err != nil {
		return RuntimeConfig{}, Metadata{}, err
	}
	return cfg, meta, nil
}

// ResolveConfigPath returns the YAML path named by SMSRELAY_CONFIG, if any.
func ResolveConfigPath(lookup EnvLookup) string {
	if lookup == nil {
		lookup = DefaultEnvLookup
	}
	if value, ok := lookup("SMSRELAY_CONFIG"); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func applyFile(cfg *RuntimeConfig, meta *Metadata, opts loadOptions) error {
	configPath := strings.TrimSpace(opts.configPath)
	explicit := configPath != ""
	if !explicit {
		configPath = ResolveConfigPath(opts.envLookup)
	}
	if configPath == "" {
		return nil
	}

	data, err := opts.readFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	values := map[string]string{}
	flatten("", doc, values)

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		f, ok := lookupField(key)
		if !ok {
			return fmt.Errorf("config file: unknown key %q", key)
		}
		raw := os.Expand(values[key], func(name string) string {
			v, _ := opts.envLookup(name)
			return v
		})
		if err := f.set(cfg, raw); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
		meta.sources[key] = SourceFile
	}
	return nil
}

// flatten turns nested YAML mappings into dotted keys. Sequences become
// comma-separated lists.
func flatten(prefix string, node any, out map[string]string) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			next := key
			if prefix != "" {
				next = prefix + "." + key
			}
			flatten(next, child, out)
		}
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(parts, ",")
	case nil:
	default:
		out[prefix] = fmt.Sprint(v)
	}
}

func applyEnv(cfg *RuntimeConfig, meta *Metadata, lookup EnvLookup) error {
	for _, f := range fields {
		for _, name := range f.env {
			value, ok := lookup(name)
			if !ok || strings.TrimSpace(value) == "" {
				continue
			}
			if err := f.set(cfg, value); err != nil {
				return fmt.Errorf("env %s: %w", name, err)
			}
			meta.sources[f.key] = SourceEnv
			break
		}
	}
	return nil
}

func applyOverrides(cfg *RuntimeConfig, meta *Metadata, overrides Overrides) error {
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		f, ok := lookupField(key)
		if !ok {
			return fmt.Errorf("override: unknown key %q", key)
		}
		if err := f.set(cfg, overrides[key]); err != nil {
			return fmt.Errorf("override: %w", err)
		}
		meta.sources[key] = SourceOverride
	}
	return nil
}

func normalizeRuntimeConfig(cfg *RuntimeConfig, meta Metadata) {
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	cfg.Queue.Driver = strings.ToLower(strings.TrimSpace(cfg.Queue.Driver))
	cfg.Server.PublicURL = strings.TrimRight(cfg.Server.PublicURL, "/")
	cfg.Observability.LogLevel = strings.ToLower(cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = strings.ToLower(cfg.Observability.LogFormat)

	// A DSN without an explicit driver selects postgres.
	if cfg.Storage.DSN != "" && meta.Source("storage.driver") == SourceDefault {
		cfg.Storage.Driver = StoragePostgres
	}
	if cfg.Twilio.StatusCallbackURL == "" && cfg.Server.PublicURL != "" {
		cfg.Twilio.StatusCallbackURL = cfg.Server.PublicURL + "/sms/status"
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = Defaults().Queue.Concurrency
	}
	if cfg.Relay.HistoryLimit <= 0 {
		cfg.Relay.HistoryLimit = Defaults().Relay.HistoryLimit
	}
	if cfg.Relay.HomeLimit <= 0 {
		cfg.Relay.HomeLimit = Defaults().Relay.HomeLimit
	}
}

// Validate checks cross-field constraints.
func (c RuntimeConfig) Validate() error {
	var problems []string
	switch c.Storage.Driver {
	case StoragePostgres:
		if c.Storage.DSN == "" {
			problems = append(problems, "storage.dsn is required for the postgres driver")
		}
	case StorageSQLite, StorageFile:
		if c.Storage.Path == "" {
			problems = append(problems, fmt.Sprintf("storage.path is required for the %s driver", c.Storage.Driver))
		}
	case StorageMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown storage.driver %q", c.Storage.Driver))
	}
	switch c.Queue.Driver {
	case QueueInline:
	case QueueAsynq:
		if c.Queue.RedisURL == "" {
			problems = append(problems, "queue.redis_url is required for the asynq driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown queue.driver %q", c.Queue.Driver))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Slack.SocketMode && c.Slack.AppToken == "" {
		problems = append(problems, "slack.app_token is required for socket mode")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// TwilioEnabled reports whether real carrier credentials are configured.
func (c RuntimeConfig) TwilioEnabled() bool {
	return !c.Twilio.Mock && c.Twilio.AccountSID != "" && c.Twilio.AuthToken != ""
}

// SalesforceEnabled reports whether case export should call Salesforce.
func (c RuntimeConfig) SalesforceEnabled() bool {
	if !c.Salesforce.Enabled {
		return false
	}
	s := c.Salesforce
	return (s.AccessToken != "" && s.InstanceURL != "") ||
		(s.ClientID != "" && s.ClientSecret != "" && s.Username != "" && s.Password != "")
}
