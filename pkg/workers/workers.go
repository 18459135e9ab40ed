// Package workers runs the periodic maintenance jobs: the capacity
// reporter, the expired-tenant sweeper and the usage reconciler.
//
// One runner instance is owned by the server process. Jobs are oneshot
// per tick and isolate per-tenant failures so one broken tenant cannot
// starve the rest.
package workers

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/layout"
	"github.com/photosync-io/photosync/pkg/metrics"
	"github.com/photosync-io/photosync/pkg/store"
)

// Job intervals. The capacity report must stay fresh for the app's
// server picker; the sweeper and reconciler are cheap enough to run
// often.
const (
	capacityInterval  = 2 * time.Minute
	sweeperInterval   = 30 * time.Minute
	reconcileInterval = 15 * time.Minute
)

// Runner schedules the background jobs.
type Runner struct {
	cron    *cron.Cron
	store   *store.Store
	layout  *layout.Layout
	metrics *metrics.Metrics

	capacity  *CapacityReporter
	sweeper   *Sweeper
	reconcile *Reconciler
}

// New creates the runner with all three jobs registered.
func New(s *store.Store, l *layout.Layout, m *metrics.Metrics) (*Runner, error) {
	r := &Runner{
		cron:      cron.New(),
		store:     s,
		layout:    l,
		metrics:   m,
		capacity:  NewCapacityReporter(s, l),
		sweeper:   NewSweeper(s, l),
		reconcile: NewReconciler(s, l),
	}

	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
	}{
		{"capacity_reporter", capacityInterval, r.capacity.Run},
		{"tenant_sweeper", sweeperInterval, r.sweeper.Run},
		{"usage_reconciler", reconcileInterval, r.reconcile.Run},
	}
	for _, job := range jobs {
		job := job
		_, err := r.cron.AddFunc("@every "+job.interval.String(), func() {
			r.runJob(job.name, job.run)
		})
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Start begins scheduling and fires the capacity reporter once so the
// report exists before the first tick.
func (r *Runner) Start() {
	r.cron.Start()
	go r.runJob("capacity_reporter", r.capacity.Run)
}

// Stop halts scheduling and waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Runner) runJob(name string, run func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	start := time.Now()
	err := run(ctx)
	elapsed := time.Since(start)

	r.metrics.WorkerDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		r.metrics.WorkerRunsTotal.WithLabelValues(name, "error").Inc()
		logger.Error("background job failed", "job", name, "duration", elapsed.String(), "error", err)
		return
	}
	r.metrics.WorkerRunsTotal.WithLabelValues(name, "ok").Inc()
	logger.Debug("background job completed", "job", name, "duration", elapsed.String())
}
