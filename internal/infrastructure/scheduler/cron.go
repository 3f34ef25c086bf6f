package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/jonboulle/clockwork"

	"geodatenbezug/internal/ports"
)

// Options configures the cron scheduler.
type Options struct {
	Location     *time.Location
	RunOnStartup bool
	Clock        clockwork.Clock
}

// CronScheduler fires a job at every activation of a cron expression.
// Jobs run on the scheduler goroutine, so two activations never overlap.
type CronScheduler struct {
	expr         *cronexpr.Expression
	location     *time.Location
	runOnStartup bool
	clock        clockwork.Clock

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler parses a cron expression. Five fields are classic cron.
// Six fields are NCRONTAB with a leading seconds field. Seven fields add a
// trailing year.
func NewCronScheduler(expression string, opts Options) (*CronScheduler, error) {
	expr, err := cronexpr.Parse(withYear(expression))
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expression, err)
	}
	c := &CronScheduler{
		expr:         expr,
		location:     opts.Location,
		runOnStartup: opts.RunOnStartup,
		clock:        opts.Clock,
	}
	if c.location == nil {
		c.location = time.UTC
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	return c, nil
}

// withYear appends the year field to six-field expressions, since cronexpr
// reads six fields as minute through year.
func withYear(expression string) string {
	if len(strings.Fields(expression)) == 6 {
		return strings.TrimSpace(expression) + " *"
	}
	return expression
}

// Next returns the first activation after t.
func (c *CronScheduler) Next(t time.Time) time.Time {
	return c.expr.Next(t.In(c.location))
}

// Start launches the scheduler goroutine. It is a no-op when already running.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop, c.done = stop, done

	go func() {
		defer close(done)
		if c.runOnStartup {
			job(c.clock.Now())
		}
		for {
			now := c.clock.Now()
			next := c.Next(now)
			if next.IsZero() {
				return
			}
			select {
			case <-c.clock.After(next.Sub(now)):
				job(next)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the scheduler and waits for a running job to return.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
