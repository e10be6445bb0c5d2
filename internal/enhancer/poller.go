package enhancer

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"go.uber.org/zap"
)

// DefaultPollCeiling bounds a single reconciliation by wall-clock time.
const DefaultPollCeiling = 600 * time.Second

var defaultPollDelays = []time.Duration{
	2 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	20 * time.Second,
	30 * time.Second,
}

// StatusSource answers live status queries.
type StatusSource interface {
	RecordInfo(ctx context.Context, taskID restoration.TaskID) (Detail, error)
}

// Poller waits for a terminal task state with escalating backoff.
type Poller struct {
	source  StatusSource
	delays  []time.Duration
	ceiling time.Duration
	now     func() time.Time
	sleep   func(ctx context.Context, delay time.Duration) error
	logger  *zap.Logger
}

// PollerOption customizes a Poller.
type PollerOption func(*Poller)

// WithPollCeiling overrides the wall-clock ceiling.
func WithPollCeiling(ceiling time.Duration) PollerOption {
	return func(poller *Poller) {
		if ceiling > 0 {
			poller.ceiling = ceiling
		}
	}
}

// WithPollClock replaces the clock and sleeper, mainly for tests.
func WithPollClock(now func() time.Time, sleep func(ctx context.Context, delay time.Duration) error) PollerOption {
	return func(poller *Poller) {
		if now != nil {
			poller.now = now
		}
		if sleep != nil {
			poller.sleep = sleep
		}
	}
}

// WithPollLogger attaches a logger.
func WithPollLogger(logger *zap.Logger) PollerOption {
	return func(poller *Poller) {
		if logger != nil {
			poller.logger = logger
		}
	}
}

// NewPoller builds a Poller over source.
func NewPoller(source StatusSource, options ...PollerOption) *Poller {
	poller := &Poller{
		source:  source,
		delays:  defaultPollDelays,
		ceiling: DefaultPollCeiling,
		now:     time.Now,
		sleep:   sleepContext,
		logger:  zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(poller)
		}
	}
	return poller
}

// Wait polls until the task succeeds or fails. Status query errors abort the wait.
func (poller *Poller) Wait(ctx context.Context, taskID restoration.TaskID) (Detail, error) {
	startedAt := poller.now()
	last := Detail{TaskID: taskID.String(), Outcome: OutcomePending}
	for attempt := 0; ; attempt++ {
		elapsed := poller.now().Sub(startedAt)
		if elapsed > poller.ceiling {
			return last, &TimeoutError{TaskID: taskID.String(), LastState: last.Outcome, Elapsed: elapsed}
		}
		detail, err := poller.source.RecordInfo(ctx, taskID)
		if err != nil {
			return last, err
		}
		last = detail
		if detail.IsTerminal() {
			return detail, nil
		}
		delay := poller.delays[min(attempt, len(poller.delays)-1)]
		poller.logger.Debug("enhancer task pending",
			zap.String("task_id", taskID.String()),
			zap.Int("attempt", attempt+1),
			zap.Duration("next_delay", delay))
		if err := poller.sleep(ctx, delay); err != nil {
			return last, err
		}
	}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
