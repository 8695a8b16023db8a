package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a parsed standard cron expression
// "minute hour day-of-month month day-of-week" or a descriptor such as
// "@daily". It is evaluated in UTC unless the expression starts with a
// CRON_TZ= or TZ= zone prefix.
type Schedule struct {
	expr  string
	sched cron.Schedule
}

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (Schedule, error) {
	line := strings.TrimSpace(expr)
	switch {
	case !strings.HasPrefix(line, "CRON_TZ=") && !strings.HasPrefix(line, "TZ="):
		line = "CRON_TZ=UTC " + line
	case !strings.Contains(line, " "):
		return Schedule{}, fmt.Errorf("cron expression %q: zone without schedule", expr)
	}
	sched, err := cron.ParseStandard(line)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron expression %q: %w", expr, err)
	}
	return Schedule{expr: expr, sched: sched}, nil
}

// String returns the expression the schedule was parsed from.
func (s Schedule) String() string {
	return s.expr
}

// Next returns the first time strictly after the given time that the
// schedule fires.
func (s Schedule) Next(after time.Time) (time.Time, error) {
	next := s.sched.Next(after)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron expression %q never fires", s.expr)
	}
	return next, nil
}

// RunCron runs the pipeline at every time the schedule matches until the
// context is cancelled. Failed runs are logged and the schedule continues.
func (o *Orchestrator) RunCron(ctx context.Context, sched Schedule) error {
	o.logger.Info("pipeline cron starting", slog.String("schedule", sched.String()))

	for {
		next, err := sched.Next(time.Now())
		if err != nil {
			return err
		}

		wait := time.Until(next)
		o.logger.Info("waiting for next scheduled run",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			o.logger.Info("pipeline cron stopped")
			return ctx.Err()
		case <-timer.C:
			o.runLogged(ctx)
		}
	}
}
