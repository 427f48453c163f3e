package autosave

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/GautamJagannath/entrada/internal/cases"
)

const defaultIdleTimeout = 15 * time.Minute

var (
	errMissingLoader = errors.New("autosave: case loader is required")
	// ErrInvalidSession indicates an empty or oversized session identifier.
	ErrInvalidSession = errors.New("autosave: invalid session id")
	// ErrRegistryClosed is returned once the registry has shut down.
	ErrRegistryClosed = errors.New("autosave: registry closed")
)

const maxSessionIDLength = 190

// CaseLoader reads the stored snapshot a new session starts from.
type CaseLoader interface {
	GetOwned(ctx context.Context, owner, caseID string) (cases.Case, error)
}

// StatusEvent is one save-status transition of one editing session.
type StatusEvent struct {
	CaseID    string    `json:"case_id"`
	SessionID string    `json:"session_id"`
	Status    Status    `json:"status"`
	At        time.Time `json:"at"`
}

// StatusSink receives status transitions for delivery to the session owner.
type StatusSink interface {
	PublishSaveStatus(owner string, event StatusEvent)
}

// SessionKey identifies one editing session of one case.
type SessionKey struct {
	CaseID    string
	SessionID string
}

type RegistryConfig struct {
	Loader      CaseLoader
	Persister   Persister
	Estimator   Estimator
	Sink        StatusSink
	Clock       clockwork.Clock
	Debounce    time.Duration
	RetryDelay  time.Duration
	IdleTimeout time.Duration
	Logger      *zap.Logger
}

type session struct {
	owner       string
	coordinator *Coordinator
	lastUsed    time.Time
	idle        clockwork.Timer
}

// Registry holds one coordinator per (case, session) pair on the server side.
type Registry struct {
	loader      CaseLoader
	persister   Persister
	estimator   Estimator
	sink        StatusSink
	clock       clockwork.Clock
	debounce    time.Duration
	retryDelay  time.Duration
	idleTimeout time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	sessions map[SessionKey]*session
	flushing map[SessionKey]chan struct{}
	closed   bool
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Loader == nil {
		return nil, errMissingLoader
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
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		loader:      cfg.Loader,
		persister:   cfg.Persister,
		estimator:   cfg.Estimator,
		sink:        cfg.Sink,
		clock:       clock,
		debounce:    cfg.Debounce,
		retryDelay:  cfg.RetryDelay,
		idleTimeout: idleTimeout,
		logger:      logger,
		sessions:    make(map[SessionKey]*session),
		flushing:    make(map[SessionKey]chan struct{}),
	}, nil
}

// Edit merges fields into the session snapshot, opening the session on first use.
func (r *Registry) Edit(ctx context.Context, owner string, key SessionKey, fields cases.FormData) (State, error) {
	current, err := r.acquire(ctx, owner, key)
	if err != nil {
		return "", err
	}
	current.coordinator.EditMany(fields)
	return current.coordinator.State(), nil
}

// SaveNow flushes the session snapshot immediately.
func (r *Registry) SaveNow(ctx context.Context, owner string, key SessionKey) (Status, error) {
	current, err := r.acquire(ctx, owner, key)
	if err != nil {
		return "", err
	}
	return current.coordinator.SaveNow(ctx), nil
}

// CloseCase drops every session of a case without flushing. Used when the case is deleted.
func (r *Registry) CloseCase(caseID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, current := range r.sessions {
		if key.CaseID != caseID {
			continue
		}
		r.detachLocked(key, current)
		current.coordinator.Close()
	}
}

// Close flushes and closes every open session. Sessions opened afterwards are refused.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	detached := make(map[SessionKey]*session, len(r.sessions))
	for key, current := range r.sessions {
		r.detachLocked(key, current)
		detached[key] = current
	}
	r.mu.Unlock()

	for key, current := range detached {
		r.flush(ctx, key, current)
	}
}

// Sessions reports the number of open sessions.
func (r *Registry) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// acquire returns the open session for key, loading the stored snapshot on
// first use. The load runs without r.mu held; a session still being flushed
// after expiry is waited for so the new one starts from its write.
func (r *Registry) acquire(ctx context.Context, owner string, key SessionKey) (*session, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}

	for {
		r.mu.Lock()
		current, found, err := r.lookupLocked(owner, key)
		flushing, busy := r.flushing[key]
		r.mu.Unlock()
		if err != nil || found {
			return current, err
		}
		if !busy {
			break
		}
		select {
		case <-flushing:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	record, err := r.loader.GetOwned(ctx, owner, key.CaseID)
	if err != nil {
		return nil, err
	}
	coordinator, err := NewCoordinator(Config{
		CaseID:     record.ID,
		Initial:    record.FormData,
		Persister:  r.persister,
		Estimator:  r.estimator,
		Clock:      r.clock,
		Debounce:   r.debounce,
		RetryDelay: r.retryDelay,
		OnStatus:   r.forward(owner, key),
		Logger:     r.logger.With(zap.String("session_id", key.SessionID)),
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, found, err := r.lookupLocked(owner, key); err != nil || found {
		coordinator.Close()
		return existing, err
	}
	if r.closed {
		coordinator.Close()
		return nil, ErrRegistryClosed
	}
	current := &session{owner: owner, coordinator: coordinator, lastUsed: r.clock.Now()}
	current.idle = r.clock.AfterFunc(r.idleTimeout, func() {
		r.expire(key, current)
	})
	r.sessions[key] = current
	r.logger.Debug("auto-save session opened",
		zap.String("case_id", key.CaseID),
		zap.String("session_id", key.SessionID))
	return current, nil
}

func (r *Registry) lookupLocked(owner string, key SessionKey) (*session, bool, error) {
	if r.closed {
		return nil, false, ErrRegistryClosed
	}
	current, ok := r.sessions[key]
	if !ok {
		return nil, false, nil
	}
	if current.owner != owner {
		return nil, false, fmt.Errorf("%w: session belongs to another owner", cases.ErrCaseNotFound)
	}
	current.lastUsed = r.clock.Now()
	return current, true, nil
}

func (r *Registry) expire(key SessionKey, current *session) {
	r.mu.Lock()
	if r.sessions[key] != current {
		r.mu.Unlock()
		return
	}
	if remaining := r.idleTimeout - r.clock.Since(current.lastUsed); remaining > 0 {
		current.idle = r.clock.AfterFunc(remaining, func() {
			r.expire(key, current)
		})
		r.mu.Unlock()
		return
	}
	r.detachLocked(key, current)
	done := make(chan struct{})
	r.flushing[key] = done
	r.mu.Unlock()

	r.flush(context.Background(), key, current)

	r.mu.Lock()
	delete(r.flushing, key)
	r.mu.Unlock()
	close(done)
	r.logger.Debug("auto-save session expired",
		zap.String("case_id", key.CaseID),
		zap.String("session_id", key.SessionID))
}

// flush writes the detached session's last snapshot and closes it. r.mu must not be held.
func (r *Registry) flush(ctx context.Context, key SessionKey, current *session) {
	if status := current.coordinator.SaveNow(ctx); status == StatusError {
		r.logger.Warn("auto-save session closed with unsaved edits",
			zap.String("case_id", key.CaseID),
			zap.String("session_id", key.SessionID))
	}
	current.coordinator.Close()
}

func (r *Registry) detachLocked(key SessionKey, current *session) {
	current.idle.Stop()
	delete(r.sessions, key)
}

func (r *Registry) forward(owner string, key SessionKey) StatusFunc {
	return func(status Status) {
		if r.sink == nil {
			return
		}
		r.sink.PublishSaveStatus(owner, StatusEvent{
			CaseID:    key.CaseID,
			SessionID: key.SessionID,
			Status:    status,
			At:        r.clock.Now().UTC(),
		})
	}
}

func normalizeKey(key SessionKey) (SessionKey, error) {
	caseID, err := cases.ValidateCaseID(key.CaseID)
	if err != nil {
		return SessionKey{}, err
	}
	sessionID := strings.TrimSpace(key.SessionID)
	if sessionID == "" || len(sessionID) > maxSessionIDLength {
		return SessionKey{}, ErrInvalidSession
	}
	return SessionKey{CaseID: caseID, SessionID: sessionID}, nil
}
