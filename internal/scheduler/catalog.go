// Package scheduler runs the service's periodic background jobs.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"billingsync/internal/types"
)

// CatalogJob is the unit of work the poller runs on each tick. It is
// satisfied by billing.CatalogSync.
type CatalogJob interface {
	Run(ctx context.Context) ([]*types.Plan, error)
}

// CatalogPoller refreshes the local plan catalog from the payment provider
// on a fixed interval. Webhook-driven catalog events remain the primary
// trigger; the poller is the backstop for deliveries that never arrive.
type CatalogPoller struct {
	job      CatalogJob
	interval time.Duration
	logger   *slog.Logger

	// ticker injection point for tests
	newTicker func(time.Duration) (<-chan time.Time, func())
}

// CatalogPollerConfig holds the configuration for creating a CatalogPoller.
type CatalogPollerConfig struct {
	Job      CatalogJob
	Interval time.Duration
	Logger   *slog.Logger
}

// NewCatalogPoller creates a new CatalogPoller with the given configuration.
func NewCatalogPoller(cfg CatalogPollerConfig) *CatalogPoller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogPoller{
		job:      cfg.Job,
		interval: cfg.Interval,
		logger:   logger,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Start blocks until ctx is cancelled, running the catalog job once
// immediately and then on every interval tick. A failed pass is logged and
// does not stop the poller; the next tick retries from scratch.
func (p *CatalogPoller) Start(ctx context.Context) error {
	if p.interval <= 0 {
		p.logger.Info("catalog poller disabled", "interval", p.interval)
		<-ctx.Done()
		return ctx.Err()
	}

	p.runOnce(ctx)

	ticks, stop := p.newTicker(p.interval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
			p.runOnce(ctx)
		}
	}
}

// runOnce executes a single catalog pass and logs the outcome.
func (p *CatalogPoller) runOnce(ctx context.Context) {
	started := time.Now()
	plans, err := p.job.Run(ctx)
	if err != nil {
		p.logger.Error("catalog sync pass failed",
			"error", err,
			"duration", time.Since(started),
		)
		return
	}
	p.logger.Info("catalog sync pass complete",
		"plans_touched", len(plans),
		"duration", time.Since(started),
	)
}
