package engine

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/sitewatch/internal/config"
	"github.com/hamed0406/sitewatch/internal/domain"
)

// Load restores sites and monitors from the store, warms each monitor's
// history window and starts the monitors that were running. A monitor that
// fails to load or start is reported without stopping the others.
func (e *Engine) Load(ctx context.Context) error {
	sites, err := e.store.LoadSites(ctx)
	if err != nil {
		return fmt.Errorf("load sites: %w", err)
	}
	monitors, err := e.store.LoadMonitors(ctx)
	if err != nil {
		return fmt.Errorf("load monitors: %w", err)
	}

	e.mu.Lock()
	for _, s := range sites {
		e.sites[s.ID] = s
	}
	e.mu.Unlock()

	var errs error
	var loaded []domain.Monitor
	for _, m := range monitors {
		if err := e.sched.Register(m); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		loaded = append(loaded, m)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmParallelism)
	warmErrs := make([]error, len(loaded))
	for i, m := range loaded {
		i, m := i, m
		g.Go(func() error {
			if err := e.history.Warm(gctx, m.ID); err != nil {
				warmErrs[i] = fmt.Errorf("warm history %s: %w", m.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	errs = multierr.Combine(append([]error{errs}, warmErrs...)...)

	started := 0
	for _, m := range loaded {
		if !m.Monitoring {
			continue
		}
		if err := e.sched.Start(m.ID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		started++
	}

	e.log.Info("engine_loaded",
		zap.Int("sites", len(sites)),
		zap.Int("monitors", len(loaded)),
		zap.Int("started", started),
		zap.Int("failures", len(multierr.Errors(errs))),
	)
	return errs
}

// Seed applies a seed file, but only to an empty engine. Invalid entries
// are skipped and reported; valid ones are still added.
func (e *Engine) Seed(ctx context.Context, seed *config.Seed) error {
	if seed == nil {
		return nil
	}
	if len(e.ListSites()) > 0 || len(e.ListMonitors()) > 0 {
		e.log.Info("seed_skipped_store_not_empty")
		return nil
	}

	var errs error
	add := func(sm config.SeedMonitor, siteID domain.SiteID, inherit bool) {
		m := sm.Monitor(inherit)
		m.SiteID = siteID
		if _, err := e.AddMonitor(ctx, m); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("seed monitor %q: %w", sm.Name, err))
		}
	}
	for _, ss := range seed.Sites {
		site, err := e.AddSite(ctx, ss.Name, ss.Monitoring)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("seed site %q: %w", ss.Name, err))
			continue
		}
		for _, sm := range ss.Monitors {
			add(sm, site.ID, ss.Monitoring)
		}
	}
	for _, sm := range seed.Monitors {
		add(sm, "", true)
	}
	return errs
}
