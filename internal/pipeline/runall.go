package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/da-ingest/internal/model"
)

// Builder returns a fresh Orchestrator for one range. Each range gets its own
// fetcher, and with it its own rate limiter and circuit breaker.
type Builder func(cfg model.RunConfig) (*Orchestrator, error)

// RunAll ingests independent date ranges concurrently, at most limit at a
// time (limit <= 0 means one). A failing range does not stop the others.
// Reports are returned in the order of cfgs; a range that could not start
// has a nil report.
func RunAll(ctx context.Context, cfgs []model.RunConfig, limit int, build Builder) ([]*model.RunReport, error) {
	seen := make(map[string]bool, len(cfgs))
	for _, cfg := range cfgs {
		key := cfg.Range.Key()
		if seen[key] {
			return nil, eris.Errorf("pipeline: range %s listed twice", key)
		}
		seen[key] = true
	}
	if limit <= 0 {
		limit = 1
	}

	reports := make([]*model.RunReport, len(cfgs))
	errs := make([]error, len(cfgs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, cfg := range cfgs {
		g.Go(func() error {
			o, err := build(cfg)
			if err != nil {
				errs[i] = eris.Wrapf(err, "pipeline: build run for %s", cfg.Range)
				return nil
			}
			reports[i], err = o.Run(ctx, cfg)
			if err != nil {
				errs[i] = eris.Wrapf(err, "pipeline: range %s", cfg.Range)
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	zap.L().Info("pipeline: all ranges finished",
		zap.Int("ranges", len(cfgs)),
		zap.Int("failed", failed),
	)
	return reports, errors.Join(errs...)
}
