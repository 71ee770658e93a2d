package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"smsrelay/internal/app/directory"
	"smsrelay/internal/app/dispatch"
	"smsrelay/internal/app/relay"
	"smsrelay/internal/channels/salesforce"
	slackchannel "smsrelay/internal/channels/slack"
	"smsrelay/internal/channels/twilio"
	"smsrelay/internal/config"
	serverhttp "smsrelay/internal/delivery/server/http"
	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/infra/storage/local"
	"smsrelay/internal/infra/storage/postgres"
	"smsrelay/internal/infra/storage/sqlite"
	"smsrelay/internal/logging"
	"smsrelay/internal/observability"
	"smsrelay/internal/queue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "smsrelay"

// Version is stamped into traces.
var Version = "dev"

type storeInitError struct {
	step string
	err  error
}

func (e storeInitError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.step, e.err)
}

func (e storeInitError) Unwrap() error {
	return e.err
}

// StoreHandle is an opened durable store and its release func.
type StoreHandle struct {
	Store conversation.Store
	Close func()
}

// OpenStore opens the configured backend and ensures its schema.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (StoreHandle, error) {
	switch cfg.Driver {
	case config.StoragePostgres:
		pool, err := postgres.Connect(ctx, cfg.DSN)
		if err != nil {
			return StoreHandle{}, storeInitError{step: "connect to postgres", err: err}
		}
		store, err := postgres.New(pool)
		if err != nil {
			pool.Close()
			return StoreHandle{}, storeInitError{step: "create postgres store", err: err}
		}
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return StoreHandle{}, storeInitError{step: "initialize postgres schema", err: err}
		}
		return StoreHandle{Store: store, Close: pool.Close}, nil

	case config.StorageSQLite:
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return StoreHandle{}, storeInitError{step: "open sqlite store", err: err}
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return StoreHandle{}, storeInitError{step: "initialize sqlite schema", err: err}
		}
		return StoreHandle{Store: store, Close: store.Close}, nil

	case config.StorageFile:
		store, err := local.NewFileStore(cfg.Path)
		if err != nil {
			return StoreHandle{}, storeInitError{step: "open file store", err: err}
		}
		return StoreHandle{Store: store, Close: func() {}}, nil

	case config.StorageMemory:
		return StoreHandle{Store: local.NewMemoryStore(), Close: func() {}}, nil

	default:
		return StoreHandle{}, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Option customizes BuildContainer.
type Option func(*containerBuilder)

// WithStore injects an already opened store; OpenStore is skipped.
func WithStore(store conversation.Store) Option {
	return func(b *containerBuilder) { b.store = store }
}

// WithChatAPIURL points the Slack client at another Web API base url.
func WithChatAPIURL(url string) Option {
	return func(b *containerBuilder) { b.chatAPIURL = url }
}

type containerBuilder struct {
	config     config.RuntimeConfig
	logger     logging.Logger
	store      conversation.Store
	chatAPIURL string
	container  *Container
}

// BuildContainer builds the container. Network listeners are not started;
// the caller runs Worker, Socket and Reconciler as needed.
func BuildContainer(ctx context.Context, cfg config.RuntimeConfig, opts ...Option) (*Container, error) {
	b := &containerBuilder{
		config:    cfg,
		logger:    logging.NewComponentLogger("DI"),
		container: &Container{Config: cfg},
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.build(ctx); err != nil {
		_ = b.container.Cleanup(context.Background())
		return nil, err
	}
	return b.container, nil
}

func (b *containerBuilder) build(ctx context.Context) error {
	c := b.container

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = observability.MustNewMetrics(c.Registry)

	tracer, err := observability.NewTracerProvider(ctx, b.tracingConfig())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	c.Tracer = tracer
	c.onCleanup(tracer.Shutdown)

	if err := b.buildStore(ctx); err != nil {
		return err
	}
	c.Directory = directory.New(directory.WithMetrics(c.Metrics))

	if err := b.buildAdapters(); err != nil {
		return err
	}

	engine, err := relay.NewEngine(relay.Deps{
		Store:     c.Store,
		Directory: c.Directory,
		Carrier:   c.Carrier,
		Chat:      c.Slack,
		Cases:     c.Cases,
		Metrics:   c.Metrics,
		Tracer:    c.Tracer,
	}, relay.Config{
		HistoryLimit: b.config.Relay.HistoryLimit,
		HomeLimit:    b.config.Relay.HomeLimit,
	})
	if err != nil {
		return err
	}
	c.Engine = engine

	if err := b.buildQueue(); err != nil {
		return err
	}

	ingress, err := slackchannel.NewIngress(c.Dispatcher, c.Slack, logging.NewComponentLogger("SlackIngress"))
	if err != nil {
		return err
	}
	c.Ingress = ingress
	if b.config.Slack.SocketMode {
		socket, err := slackchannel.NewSocketRunner(c.Slack, ingress, logging.NewComponentLogger("SlackSocket"))
		if err != nil {
			return err
		}
		c.Socket = socket
	}

	if schedule := strings.TrimSpace(b.config.Relay.ReconcileSchedule); schedule != "" {
		reconciler, err := directory.NewReconciler(c.Directory, c.Store, schedule, logging.NewComponentLogger("DirectoryReconciler"))
		if err != nil {
			return err
		}
		c.Reconciler = reconciler
		c.onCleanup(func(context.Context) error {
			reconciler.Stop()
			return nil
		})
	}

	c.Handler = b.buildRouter()
	b.logger.Info("Container built (storage=%s queue=%s socket_mode=%t)", b.config.Storage.Driver, b.config.Queue.Driver, b.config.Slack.SocketMode)
	return nil
}

func (b *containerBuilder) tracingConfig() observability.TracingConfig {
	obs := b.config.Observability
	cfg := observability.TracingConfig{
		Enabled:        obs.TracingEnabled,
		Exporter:       obs.TracingExporter,
		SampleRate:     obs.SampleRate,
		ServiceName:    serviceName,
		ServiceVersion: Version,
	}
	if strings.EqualFold(obs.TracingExporter, "zipkin") {
		cfg.ZipkinEndpoint = obs.TracingEndpoint
	} else {
		cfg.OTLPEndpoint = obs.TracingEndpoint
	}
	return cfg
}

func (b *containerBuilder) buildStore(ctx context.Context) error {
	c := b.container
	if b.store != nil {
		c.Store = b.store
		return nil
	}
	handle, err := OpenStore(ctx, b.config.Storage)
	if err != nil {
		var serr storeInitError
		if errors.As(err, &serr) {
			b.logger.Error("Failed to %s: %v", serr.step, serr.err)
		}
		return err
	}
	c.Store = handle.Store
	c.onCleanup(func(context.Context) error {
		handle.Close()
		return nil
	})
	return nil
}

func (b *containerBuilder) buildAdapters() error {
	c := b.container
	cfg := b.config

	if cfg.TwilioEnabled() {
		carrier, err := twilio.New(twilio.Config{
			AccountSID:        cfg.Twilio.AccountSID,
			AuthToken:         cfg.Twilio.AuthToken,
			StatusCallbackURL: cfg.Twilio.StatusCallbackURL,
		})
		if err != nil {
			return err
		}
		c.Carrier = carrier
	} else {
		b.logger.Warn("Twilio credentials not configured; using mock carrier")
		c.Carrier = twilio.NewMockCarrier()
	}

	if cfg.SalesforceEnabled() {
		cases, err := salesforce.New(salesforce.Config{
			LoginURL:      cfg.Salesforce.LoginURL,
			ClientID:      cfg.Salesforce.ClientID,
			ClientSecret:  cfg.Salesforce.ClientSecret,
			Username:      cfg.Salesforce.Username,
			Password:      cfg.Salesforce.Password,
			SecurityToken: cfg.Salesforce.SecurityToken,
			APIVersion:    cfg.Salesforce.APIVersion,
			AccessToken:   cfg.Salesforce.AccessToken,
			InstanceURL:   cfg.Salesforce.InstanceURL,
		})
		if err != nil {
			return err
		}
		c.Cases = cases
	} else {
		b.logger.Warn("Salesforce integration disabled; cases are kept in memory")
		c.Cases = salesforce.NewMock()
	}

	slackClient, err := slackchannel.New(slackchannel.Config{
		BotToken:      cfg.Slack.BotToken,
		SigningSecret: cfg.Slack.SigningSecret,
		AppToken:      cfg.Slack.AppToken,
		SocketMode:    cfg.Slack.SocketMode,
		APIURL:        b.chatAPIURL,
	})
	if err != nil {
		return err
	}
	c.Slack = slackClient
	return nil
}

func (b *containerBuilder) buildQueue() error {
	c := b.container
	c.Mux = queue.NewMux()
	dispatch.Register(c.Mux, c.Engine, logging.NewComponentLogger("Dispatch"))

	switch b.config.Queue.Driver {
	case config.QueueAsynq:
		asynqCfg := queue.AsynqConfig{
			RedisURL:    b.config.Queue.RedisURL,
			Concurrency: b.config.Queue.Concurrency,
		}
		producer, err := queue.NewAsynqQueue(asynqCfg)
		if err != nil {
			return err
		}
		worker, err := queue.NewAsynqWorker(asynqCfg, c.Mux, logging.NewComponentLogger("AsynqWorker"))
		if err != nil {
			_ = producer.Close()
			return err
		}
		c.Queue = producer
		c.Worker = worker
	default:
		c.Queue = queue.NewInline(c.Mux, logging.NewComponentLogger("InlineQueue"))
	}
	q := c.Queue
	c.onCleanup(func(context.Context) error { return q.Close() })
	c.Dispatcher = dispatch.New(c.Queue)
	return nil
}

func (b *containerBuilder) buildRouter() http.Handler {
	c := b.container
	cfg := b.config

	var validator serverhttp.SignatureValidator
	if cfg.TwilioEnabled() && cfg.Twilio.ValidateSignature {
		validator = twilio.NewSignatureValidator(cfg.Twilio.AuthToken)
	}
	var ingress serverhttp.SlackIngress
	if !cfg.Slack.SocketMode {
		ingress = c.Ingress
	}

	return serverhttp.NewRouter(serverhttp.RouterDeps{
		Dispatcher:    c.Dispatcher,
		Conversations: c.Store,
		Slack:         ingress,
		SlackVerifier: slackchannel.NewVerifier(cfg.Slack.SigningSecret),
		Carrier:       validator,
		Metrics:       promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{}),
		Logger:        logging.NewComponentLogger("HTTP"),
	}, serverhttp.RouterConfig{
		Environment:    cfg.Environment,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PublicURL:      cfg.Server.PublicURL,
		RateLimit: serverhttp.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimitRPS,
			Burst:             cfg.Server.RateLimitBurst,
		},
	})
}
