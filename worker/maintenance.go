package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const staleJobMessage = "Job did not finish in time."

type preflightExpirer interface {
	InvalidateOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type staleJobFailer interface {
	FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error)
}

type maintenance struct {
	logger            *slog.Logger
	preflights        preflightExpirer
	jobs              staleJobFailer
	preflightLifetime time.Duration
	jobStaleAfter     time.Duration
	now               func() time.Time
}

func (m *maintenance) runOnce(ctx context.Context) {
	now := m.now().UTC()
	if m.preflightLifetime > 0 {
		n, err := m.preflights.InvalidateOlderThan(ctx, now.Add(-m.preflightLifetime))
		if err != nil {
			m.logger.Error("expire preflights failed", "error", err)
		} else if n > 0 {
			m.logger.Info("preflights expired", "count", n)
		}
	}
	if m.jobStaleAfter > 0 {
		n, err := m.jobs.FailStale(ctx, now.Add(-m.jobStaleAfter), staleJobMessage)
		if err != nil {
			m.logger.Error("fail stale jobs failed", "error", err)
		} else if n > 0 {
			m.logger.Warn("stale jobs failed", "count", n)
		}
	}
}

// startMaintenance schedules runOnce and stops the scheduler when ctx is done.
func startMaintenance(ctx context.Context, m *maintenance, schedule string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		m.runOnce(runCtx)
	}); err != nil {
		return nil, err
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}
