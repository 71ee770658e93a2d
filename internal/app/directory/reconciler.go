package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"smsrelay/internal/logging"

	"github.com/robfig/cron/v3"
)

// Reconciler re-runs Rebuild on a cron schedule.
type Reconciler struct {
	cron      *cron.Cron
	directory *Directory
	source    Source
	schedule  string
	logger    logging.Logger
	stopOnce  sync.Once
}

// NewReconciler validates schedule (standard five-field or @every form).
func NewReconciler(d *Directory, source Source, schedule string, logger logging.Logger) (*Reconciler, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil, fmt.Errorf("reconcile schedule is required")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("parse reconcile schedule %q: %w", schedule, err)
	}
	return &Reconciler{
		cron:      cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		directory: d,
		source:    source,
		schedule:  schedule,
		logger:    logging.OrNop(logger),
	}, nil
}

// Start registers the job and runs until ctx is done.
func (r *Reconciler) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.schedule, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("register reconcile job: %w", err)
	}
	r.cron.Start()
	r.logger.Info("Directory reconciler started (%s)", r.schedule)
	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// RunOnce performs a single reconcile pass.
func (r *Reconciler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := r.directory.Rebuild(ctx, r.source); err != nil {
		r.logger.Warn("Directory reconcile failed: %v", err)
	}
}

// Stop halts the schedule and waits for a running pass. Safe to call twice.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		<-r.cron.Stop().Done()
		r.logger.Info("Directory reconciler stopped")
	})
}
