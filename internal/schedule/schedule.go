// Package schedule runs a task at the occurrences of an RRULE
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/nicliuqi/test-opengauss-meetings/internal/logging"
	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
)

// Task is one scheduled run
type Task func(ctx context.Context) error

// Scheduler computes occurrences and waits for them
type Scheduler struct {
	rule   *rrule.RRule
	now    func() time.Time
	wait   func(ctx context.Context, d time.Duration) error
	logger logging.Logger
}

// New parses rule (without the RRULE: prefix) anchored at start
func New(rule string, start time.Time) (*Scheduler, error) {
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, &recording.ConfigurationError{Field: "schedule.rrule", Reason: err.Error()}
	}
	r.DTStart(start)
	return &Scheduler{
		rule:   r,
		now:    time.Now,
		wait:   waitContext,
		logger: logging.GetDefaultLogger(),
	}, nil
}

// Next returns the first occurrence strictly after t. ok is false once the rule is exhausted.
func (s *Scheduler) Next(t time.Time) (next time.Time, ok bool) {
	next = s.rule.After(t, false)
	return next, !next.IsZero()
}

// Run calls task at every occurrence until ctx is done or the rule ends.
// Task errors are logged and the schedule continues.
func (s *Scheduler) Run(ctx context.Context, task Task) error {
	for {
		next, ok := s.Next(s.now())
		if !ok {
			s.logger.Info("Schedule has no further occurrences")
			return nil
		}
		s.logger.Info("Next run at %s", next.Format(time.RFC3339))

		if err := s.wait(ctx, next.Sub(s.now())); err != nil {
			return err
		}

		start := time.Now()
		metrics := logging.PerformanceMetrics{Operation: "scheduled_run", Success: true}
		if err := s.run(ctx, task); err != nil {
			s.logger.Error("Scheduled run failed: %v", err)
			metrics.Success = false
			metrics.Error = err.Error()
		}
		metrics.Duration = time.Since(start)
		s.logger.LogPerformance(metrics)
	}
}

// run keeps a panicking task from ending the daemon
func (s *Scheduler) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduled run panicked: %v", r)
		}
	}()
	return task(ctx)
}

func waitContext(ctx context.Context, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
