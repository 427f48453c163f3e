// Package autosave turns bursts of form edits into debounced, ordered persistence writes.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/GautamJagannath/entrada/internal/cases"
)

const (
	// DefaultDebounce is the quiet period that must follow the last edit before a write.
	DefaultDebounce = 2000 * time.Millisecond
	// DefaultRetryDelay is the fixed delay before a failed write is retried.
	DefaultRetryDelay = 5000 * time.Millisecond
)

// Status is the save indicator reported to the editing session.
type Status string

const (
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusError  Status = "error"
)

// State is the coordinator's position in the save state machine.
type State string

const (
	StateIdle        State = "idle"
	StatePendingSave State = "pending_save"
	StateSaving      State = "saving"
	StateError       State = "error"
)

var (
	errMissingCaseID    = errors.New("autosave: case id is required")
	errMissingPersister = errors.New("autosave: persister is required")
	errMissingEstimator = errors.New("autosave: completion estimator is required")
)

// Persister stores one progress snapshot atomically.
type Persister interface {
	WriteProgress(ctx context.Context, caseID string, progress cases.Progress) error
}

// Estimator derives the completion percentage of a snapshot.
type Estimator interface {
	Estimate(data cases.FormData) int
}

// StatusFunc receives status transitions in write order. It must not call SaveNow.
type StatusFunc func(status Status)

type Config struct {
	CaseID string
	// Initial is the snapshot already persisted for the case.
	Initial    cases.FormData
	Persister  Persister
	Estimator  Estimator
	Clock      clockwork.Clock
	Debounce   time.Duration
	RetryDelay time.Duration
	OnStatus   StatusFunc
	Logger     *zap.Logger
}

// Coordinator owns the in-memory snapshot of one editing session.
type Coordinator struct {
	caseID     string
	persister  Persister
	estimator  Estimator
	clock      clockwork.Clock
	debounce   time.Duration
	retryDelay time.Duration
	onStatus   StatusFunc
	logger     *zap.Logger

	// writeMu admits one write at a time.
	writeMu sync.Mutex

	mu         sync.Mutex
	snapshot   cases.FormData
	persisted  string
	state      State
	status     Status
	timer      clockwork.Timer
	generation uint64
	closed     bool
}

func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.CaseID == "" {
		return nil, errMissingCaseID
	}
	if cfg.Persister == nil {
		return nil, errMissingPersister
	}
	if cfg.Estimator == nil {
		return nil, errMissingEstimator
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	onStatus := cfg.OnStatus
	if onStatus == nil {
		onStatus = func(Status) {}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	snapshot := cfg.Initial.Clone()
	persisted, err := snapshot.Serialize()
	if err != nil {
		return nil, fmt.Errorf("autosave: serialize initial snapshot: %w", err)
	}
	return &Coordinator{
		caseID:     cfg.CaseID,
		persister:  cfg.Persister,
		estimator:  cfg.Estimator,
		clock:      clock,
		debounce:   debounce,
		retryDelay: retryDelay,
		onStatus:   onStatus,
		logger:     logger.With(zap.String("case_id", cfg.CaseID)),
		snapshot:   snapshot,
		persisted:  string(persisted),
		state:      StateIdle,
		status:     StatusSaved,
	}, nil
}

// Edit sets one field and restarts the debounce window.
func (c *Coordinator) Edit(field string, value cases.Value) {
	c.EditMany(cases.FormData{field: value})
}

// EditMany merges several fields and restarts the debounce window.
func (c *Coordinator) EditMany(fields cases.FormData) {
	if len(fields) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.snapshot.Merge(fields)
	c.state = StatePendingSave
	c.scheduleLocked(c.debounce)
}

// SaveNow cancels the pending debounce and writes immediately. An in-flight write is
// allowed to finish first.
func (c *Coordinator) SaveNow(ctx context.Context) Status {
	c.mu.Lock()
	c.stopTimerLocked()
	c.mu.Unlock()
	return c.write(ctx)
}

// Close stops timers and ends retries. A write already in flight completes.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTimerLocked()
}

// Snapshot returns a copy of the current in-memory form data.
func (c *Coordinator) Snapshot() cases.FormData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Clone()
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the most recently reported save status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) scheduleLocked(delay time.Duration) {
	c.stopTimerLocked()
	generation := c.generation
	c.timer = c.clock.AfterFunc(delay, func() {
		c.fire(generation)
	})
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
}

func (c *Coordinator) fire(generation uint64) {
	c.mu.Lock()
	if c.closed || generation != c.generation {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()
	c.write(context.Background())
}

func (c *Coordinator) write(ctx context.Context) Status {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.closed {
		status := c.status
		c.mu.Unlock()
		return status
	}
	data := c.snapshot.Clone()
	encoded, err := data.Serialize()
	if err != nil {
		c.state = StateError
		c.status = StatusError
		c.mu.Unlock()
		c.logger.Error("auto-save snapshot could not be serialized", zap.Error(err))
		c.onStatus(StatusError)
		return StatusError
	}
	serialized := string(encoded)
	if len(data) == 0 || serialized == c.persisted {
		recovered := c.state == StateError
		if recovered {
			c.stopTimerLocked()
			c.status = StatusSaved
		}
		if c.timer == nil {
			c.state = StateIdle
		}
		status := c.status
		c.mu.Unlock()
		if recovered {
			c.onStatus(StatusSaved)
		}
		return status
	}
	c.state = StateSaving
	c.status = StatusSaving
	c.mu.Unlock()
	c.onStatus(StatusSaving)

	progress := cases.Progress{
		FormData:             data,
		CompletionPercentage: c.estimator.Estimate(data),
		UpdatedAt:            c.clock.Now().UTC(),
	}
	err = c.persister.WriteProgress(ctx, c.caseID, progress)

	c.mu.Lock()
	if err != nil {
		c.state = StateError
		c.status = StatusError
		if errors.Is(err, cases.ErrCaseNotFound) {
			c.closed = true
			c.stopTimerLocked()
			c.mu.Unlock()
			c.logger.Warn("auto-save stopped, case no longer exists", zap.Error(err))
			c.onStatus(StatusError)
			return StatusError
		}
		if !c.closed && c.timer == nil {
			c.scheduleLocked(c.retryDelay)
		}
		c.mu.Unlock()
		c.logger.Warn("auto-save write failed", zap.Duration("retry_in", c.retryDelay), zap.Error(err))
		c.onStatus(StatusError)
		return StatusError
	}
	c.persisted = serialized
	c.status = StatusSaved
	if c.timer == nil {
		c.state = StateIdle
	} else {
		c.state = StatePendingSave
	}
	c.mu.Unlock()
	c.onStatus(StatusSaved)
	return StatusSaved
}
