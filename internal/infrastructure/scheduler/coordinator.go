package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shipsync/backend/internal/infrastructure/logger"
	"github.com/shipsync/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// BatchFunc runs one batch under the given run id
type BatchFunc func(ctx context.Context, runID int64) error

// RunState is the shared run-id mutex. At most one run per name is active; a claim
// expires after its lease so a crashed process cannot hold it forever.
type RunState interface {
	// TryClaim returns a new, strictly increasing run id when no run is active
	TryClaim(ctx context.Context, name string, ttl time.Duration) (int64, bool, error)
	// Release frees the mutex only if runID still owns it
	Release(ctx context.Context, name string, runID int64) error
	// ActiveRun returns the owning run id, zero when free
	ActiveRun(ctx context.Context, name string) (int64, error)
}

// CoordinatorConfig holds coordinator configuration
type CoordinatorConfig struct {
	Name         string
	PollInterval time.Duration
	LeaseTTL     time.Duration
	// RunOnStart runs a batch immediately instead of waiting for the first tick
	RunOnStart bool
}

// DefaultCoordinatorConfig returns default configuration for name
func DefaultCoordinatorConfig(name string) CoordinatorConfig {
	return CoordinatorConfig{
		Name:         name,
		PollInterval: 30 * time.Second,
		LeaseTTL:     15 * time.Minute,
		RunOnStart:   true,
	}
}

// Validate checks the configuration
func (c CoordinatorConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	}
	if c.LeaseTTL < c.PollInterval {
		return fmt.Errorf("%w: lease TTL must not be shorter than the poll interval", ErrInvalidConfig)
	}
	return nil
}

// Status is a snapshot of a coordinator
type Status struct {
	Name      string     `json:"name"`
	Running   bool       `json:"running"`
	LastRunID int64      `json:"last_run_id"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Skipped   int64      `json:"skipped"`
}

// Coordinator drives one worker on a poll timer. Overlapping runs are prevented by
// the run-id mutex in RunState, across processes as well as within one. It is
// constructed once and injected; Start and Stop may be called repeatedly.
type Coordinator struct {
	config CoordinatorConfig
	batch  BatchFunc
	state  RunState
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	// loops started and not yet exited; a stopped loop may still be finishing its batch
	loops  []loopHandle
	status Status
}

type loopHandle struct {
	done  chan struct{}
	abort context.CancelFunc
}

func (h loopHandle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// NewCoordinator creates a stopped coordinator
func NewCoordinator(config CoordinatorConfig, state RunState, batch BatchFunc, logger *zap.Logger) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		config: config,
		batch:  batch,
		state:  state,
		logger: logger.Named("coordinator").With(zap.String("worker", config.Name)),
		status: Status{Name: config.Name},
	}, nil
}

// Start begins polling. Calling Start on a running coordinator is a no-op.
// Batches inherit ctx values but not its cancellation; use Stop and Wait.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.running = true
	c.status.Running = true
	c.stop = make(chan struct{})
	c.loops = activeLoops(c.loops)

	batchCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	handle := loopHandle{done: make(chan struct{}), abort: abort}
	c.loops = append(c.loops, handle)
	go func(stop <-chan struct{}) {
		defer abort()
		c.loop(batchCtx, stop, handle.done)
	}(c.stop)

	c.logger.Info("coordinator started",
		zap.Duration("poll_interval", c.config.PollInterval),
		zap.Duration("lease_ttl", c.config.LeaseTTL),
	)
	return nil
}

// Stop clears the poll timer. A batch in progress is not interrupted.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.status.Running = false
	close(c.stop)
	c.logger.Info("coordinator stopping")
}

// Wait blocks until every loop started so far has exited, including one still
// finishing its batch after an earlier Stop. When ctx ends first the remaining
// batches are cancelled so they can return their unprocessed messages.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	loops := append([]loopHandle(nil), c.loops...)
	c.mu.Unlock()
	if len(loops) == 0 {
		return nil
	}

	for _, h := range loops {
		select {
		case <-h.done:
		case <-ctx.Done():
			for _, pending := range loops {
				pending.abort()
			}
			c.logger.Warn("coordinator drain timed out, batch cancelled")
			return ctx.Err()
		}
	}

	c.mu.Lock()
	c.loops = activeLoops(c.loops)
	c.mu.Unlock()
	c.logger.Info("coordinator stopped")
	return nil
}

func activeLoops(loops []loopHandle) []loopHandle {
	active := loops[:0]
	for _, h := range loops {
		if !h.finished() {
			active = append(active, h)
		}
	}
	return active
}

// IsRunning returns true between Start and Stop
func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Status returns a snapshot of the coordinator
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	if c.config.RunOnStart {
		c.tick(ctx)
	}
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	err := c.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		c.logger.Debug("tick skipped, previous run still active")
	case err != nil:
		c.logger.Error("batch run failed", zap.Error(err))
	}
}

// RunOnce claims the run-id mutex and runs one batch. It returns ErrRunInProgress
// without running when another run holds the mutex.
func (c *Coordinator) RunOnce(ctx context.Context) error {
	runID, ok, err := c.state.TryClaim(ctx, c.config.Name, c.config.LeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to claim run: %w", err)
	}
	if !ok {
		c.mu.Lock()
		c.status.Skipped++
		c.mu.Unlock()
		return ErrRunInProgress
	}
	defer func() {
		if err := c.state.Release(context.WithoutCancel(ctx), c.config.Name, runID); err != nil {
			c.logger.Warn("failed to release run", zap.Int64("run_id", runID), zap.Error(err))
		}
	}()

	startedAt := time.Now()
	ctx, _ = logger.WithRunID(ctx, c.logger, runID)
	batchErr := c.runBatch(ctx, runID)

	c.mu.Lock()
	c.status.LastRunID = runID
	c.status.LastRunAt = &startedAt
	c.status.LastError = ""
	if batchErr != nil {
		c.status.LastError = batchErr.Error()
	}
	c.mu.Unlock()

	c.logger.Debug("run finished",
		zap.Int64("run_id", runID),
		zap.Duration("duration", time.Since(startedAt)),
	)
	return batchErr
}

// runBatch keeps a panicking batch from killing the poll loop
func (c *Coordinator) runBatch(ctx context.Context, runID int64) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "sync.batch",
		attribute.String("coordinator", c.config.Name),
		attribute.Int64("run_id", runID),
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch panicked: %v", r)
		}
		telemetry.EndSpan(span, err)
	}()
	return c.batch(ctx, runID)
}
