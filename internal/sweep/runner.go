package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedules are cron specs for the two jobs. @every expressions are
// accepted alongside standard five-field specs.
type Schedules struct {
	Pending string
	Quizzes string
}

// jobTimeout bounds a single scheduled pass.
const jobTimeout = 2 * time.Minute

// Runner drives the sweeps on their schedules for the lifetime of the
// server process.
type Runner struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewRunner registers both jobs. Start must be called to begin; Stop waits
// for an in-flight pass before returning.
func NewRunner(sweeper *Sweeper, schedules Schedules, logger *slog.Logger) (*Runner, error) {
	c := cron.New()

	_, err := c.AddFunc(schedules.Pending, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if _, err := sweeper.SweepPending(ctx); err != nil {
			logger.Error("pending sweep failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("sweep: bad pending schedule %q: %w", schedules.Pending, err)
	}

	_, err = c.AddFunc(schedules.Quizzes, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if _, err := sweeper.SweepExpiredQuizzes(ctx); err != nil {
			logger.Error("quiz sweep failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("sweep: bad quiz schedule %q: %w", schedules.Quizzes, err)
	}

	return &Runner{cron: c, logger: logger}, nil
}

// Start begins the schedules in a background goroutine.
func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info("sweep schedules started")
}

// Stop halts the schedules and blocks until any running pass finishes.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("sweep schedules stopped")
}
