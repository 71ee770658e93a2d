// Package di assembles the relay object graph from a RuntimeConfig.
package di

import (
	"context"
	"errors"
	"net/http"

	"smsrelay/internal/app/directory"
	"smsrelay/internal/app/dispatch"
	"smsrelay/internal/app/relay"
	slackchannel "smsrelay/internal/channels/slack"
	"smsrelay/internal/config"
	"smsrelay/internal/domain/conversation"
	"smsrelay/internal/observability"
	"smsrelay/internal/queue"

	"github.com/prometheus/client_golang/prometheus"
)

// Container holds all application dependencies.
type Container struct {
	Config     config.RuntimeConfig
	Registry   *prometheus.Registry
	Metrics    *observability.Metrics
	Tracer     *observability.TracerProvider
	Store      conversation.Store
	Directory  *directory.Directory
	Engine     *relay.Engine
	Carrier    relay.Carrier
	Cases      relay.CaseLogger
	Mux        *queue.Mux
	Queue      queue.Queue
	Dispatcher *dispatch.Dispatcher
	Slack      *slackchannel.Client
	Ingress    *slackchannel.Ingress
	Handler    http.Handler

	// Reconciler is nil when no schedule is configured.
	Reconciler *directory.Reconciler
	// Socket is set in Slack socket mode.
	Socket *slackchannel.SocketRunner
	// Worker is set for the asynq queue driver.
	Worker *queue.AsynqWorker

	cleanups []func(context.Context) error
}

func (c *Container) onCleanup(fn func(context.Context) error) {
	c.cleanups = append(c.cleanups, fn)
}

// Cleanup releases resources in reverse construction order.
func (c *Container) Cleanup(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		if err := c.cleanups[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.cleanups = nil
	return errors.Join(errs...)
}
