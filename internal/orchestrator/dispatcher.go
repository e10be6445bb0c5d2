package orchestrator

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkerCount = 4
	defaultQueueSize   = 256
)

// ErrQueueFull is returned when the dispatcher cannot accept more work.
var ErrQueueFull = errors.New("reconciliation queue full")

// Task is a unit of background reconciliation work.
type Task func(ctx context.Context)

// Executor runs keyed tasks; at most one task per key is queued or running.
// Submit reports whether task was queued; a coalesced duplicate is (false, nil).
type Executor interface {
	Submit(key string, task Task) (bool, error)
}

type queuedTask struct {
	key  string
	task Task
}

// Dispatcher is a fixed worker pool that coalesces submissions by key.
type Dispatcher struct {
	queue    chan queuedTask
	workers  int
	logger   *zap.Logger
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewDispatcher builds a pool; non-positive sizes fall back to defaults.
func NewDispatcher(workers int, queueSize int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    make(chan queuedTask, queueSize),
		workers:  workers,
		logger:   logger,
		inflight: map[string]struct{}{},
	}
}

// Submit enqueues task unless one for the same key is already pending or running.
func (dispatcher *Dispatcher) Submit(key string, task Task) (bool, error) {
	dispatcher.mu.Lock()
	if _, busy := dispatcher.inflight[key]; busy {
		dispatcher.mu.Unlock()
		dispatcher.logger.Debug("reconciliation coalesced", zap.String("key", key))
		return false, nil
	}
	dispatcher.inflight[key] = struct{}{}
	dispatcher.mu.Unlock()

	select {
	case dispatcher.queue <- queuedTask{key: key, task: task}:
		return true, nil
	default:
		dispatcher.release(key)
		dispatcher.logger.Warn("reconciliation queue full", zap.String("key", key))
		return false, ErrQueueFull
	}
}

// Run processes tasks until ctx is cancelled.
func (dispatcher *Dispatcher) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for index := 0; index < dispatcher.workers; index++ {
		group.Go(func() error {
			dispatcher.work(groupCtx)
			return nil
		})
	}
	return group.Wait()
}

func (dispatcher *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case queued := <-dispatcher.queue:
			dispatcher.execute(ctx, queued)
		}
	}
}

func (dispatcher *Dispatcher) execute(ctx context.Context, queued queuedTask) {
	defer dispatcher.release(queued.key)
	defer func() {
		if recovered := recover(); recovered != nil {
			dispatcher.logger.Error("reconciliation panicked", zap.String("key", queued.key), zap.Any("panic", recovered))
		}
	}()
	queued.task(ctx)
}

func (dispatcher *Dispatcher) release(key string) {
	dispatcher.mu.Lock()
	delete(dispatcher.inflight, key)
	dispatcher.mu.Unlock()
}

// SyncExecutor runs tasks inline on the caller's goroutine.
type SyncExecutor struct {
	Context context.Context
}

func (executor SyncExecutor) Submit(_ string, task Task) (bool, error) {
	ctx := executor.Context
	if ctx == nil {
		ctx = context.Background()
	}
	task(ctx)
	return true, nil
}
