package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smsrelay/internal/logging"
	id "smsrelay/internal/utils/id"

	json "github.com/goccy/go-json"
	"github.com/hibiken/asynq"
)

const (
	defaultQueueName   = "relay"
	defaultConcurrency = 10
	defaultMaxRetry    = 5
)

// AsynqConfig selects the Redis backend and worker sizing.
type AsynqConfig struct {
	RedisURL    string
	Queue       string
	Concurrency int
	MaxRetry    int
	// Timeout is the asynq lease for a task. Zero keeps asynq's default.
	// Handlers run detached from it and are never cancelled mid-flight.
	Timeout time.Duration
}

func (c AsynqConfig) withDefaults() AsynqConfig {
	if strings.TrimSpace(c.Queue) == "" {
		c.Queue = defaultQueueName
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	return c
}

func (c AsynqConfig) redisOpt() (asynq.RedisConnOpt, error) {
	if strings.TrimSpace(c.RedisURL) == "" {
		return nil, errors.New("asynq: redis url is required")
	}
	opt, err := asynq.ParseRedisURI(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return opt, nil
}

// envelope is the persisted task body.
type envelope struct {
	LogID   string `json:"log_id,omitempty"`
	Payload []byte `json:"payload"`
}

func encodeEnvelope(task Task) ([]byte, error) {
	return json.Marshal(envelope{LogID: task.LogID, Payload: task.Payload})
}

func decodeEnvelope(taskType string, raw []byte) (Task, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Task{}, fmt.Errorf("asynq: decode %s envelope: %w", taskType, err)
	}
	return Task{Type: taskType, Payload: env.Payload, LogID: env.LogID}, nil
}

// AsynqQueue enqueues tasks into Redis.
type AsynqQueue struct {
	client *asynq.Client
	cfg    AsynqConfig
}

// NewAsynqQueue connects a producer.
func NewAsynqQueue(cfg AsynqConfig) (*AsynqQueue, error) {
	cfg = cfg.withDefaults()
	opt, err := cfg.redisOpt()
	if err != nil {
		return nil, err
	}
	return &AsynqQueue{client: asynq.NewClient(opt), cfg: cfg}, nil
}

// Enqueue persists the task on the configured queue.
func (q *AsynqQueue) Enqueue(ctx context.Context, task Task) error {
	if task.Type == "" {
		return errors.New("asynq: task type is required")
	}
	body, err := encodeEnvelope(task)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(task.Type, body), q.options()...)
	if err != nil {
		return fmt.Errorf("asynq: enqueue %s: %w", task.Type, err)
	}
	return nil
}

func (q *AsynqQueue) options() []asynq.Option {
	opts := []asynq.Option{asynq.Queue(q.cfg.Queue), asynq.MaxRetry(q.cfg.MaxRetry)}
	if q.cfg.Timeout > 0 {
		opts = append(opts, asynq.Timeout(q.cfg.Timeout))
	}
	return opts
}

// Close releases the Redis connection.
func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

var _ Queue = (*AsynqQueue)(nil)

// AsynqWorker consumes tasks from Redis and routes them through a Mux.
type AsynqWorker struct {
	server *asynq.Server
	mux    *Mux
	logger logging.Logger
}

// NewAsynqWorker builds a worker server for mux.
func NewAsynqWorker(cfg AsynqConfig, mux *Mux, logger logging.Logger) (*AsynqWorker, error) {
	cfg = cfg.withDefaults()
	opt, err := cfg.redisOpt()
	if err != nil {
		return nil, err
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("AsynqWorker")
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Warn("Task %s failed: %v", task.Type(), err)
		}),
	})
	return &AsynqWorker{server: srv, mux: mux, logger: logger}, nil
}

// ProcessTask implements asynq.Handler. The handler keeps the values of ctx
// but not its deadline or shutdown cancellation.
func (w *AsynqWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	task, err := decodeEnvelope(t.Type(), t.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	ctx = context.WithoutCancel(ctx)
	if task.LogID != "" {
		ctx = id.WithLogID(ctx, task.LogID)
	}
	err = w.mux.Process(ctx, task)
	if err == nil {
		return nil
	}
	if IsSkipRetry(err) || errors.Is(err, ErrUnknownTask) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// Run starts the worker and blocks until ctx is done.
func (w *AsynqWorker) Run(ctx context.Context) error {
	if err := w.server.Start(w); err != nil {
		return fmt.Errorf("asynq: start worker: %w", err)
	}
	w.logger.Info("Asynq worker serving %v", w.mux.Types())
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}
