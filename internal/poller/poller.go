// Package poller drives a submitted generation operation to a terminal state
// by querying the provider on a timer, honoring the provider's pacing hints
// and bounding the number of attempts.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/maauso/veo-studio-api/internal/generation"
)

// State is the poller's position in the operation lifecycle.
type State string

const (
	// StateIdle means no operation has been tracked yet.
	StateIdle State = "idle"
	// StateSubmitted is entered right after a non-terminal submission.
	StateSubmitted State = "submitted"
	// StatePolling is entered when the first status query runs.
	StatePolling State = "polling"
	// StateSucceeded means the operation produced at least one output.
	StateSucceeded State = "succeeded"
	// StateFailed means a query or the provider reported a hard error.
	StateFailed State = "failed"
	// StateTimedOut means the attempt ceiling was exceeded.
	StateTimedOut State = "timed_out"
	// StateCancelled means the chain was stopped before it resolved.
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further transitions can occur.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return true
	default:
		return false
	}
}

// Status messages reported through Status.Message.
const (
	MessageAwaiting  = "Awaiting Veo render completion..."
	MessageRendering = "Rendering sequence in Veo cloud..."
	MessageCompleted = "Completed, download ready."
	MessageFailed    = "Generation failed"
	MessageTimedOut  = "Timed out waiting for Veo"
	MessageCancelled = "Generation cancelled"
)

// Status is a snapshot of the tracked operation.
type Status struct {
	State         State
	OperationName string
	// Attempts counts completed status queries in the current chain.
	Attempts int
	Message  string
	// VideoURI is the primary output, set on success.
	VideoURI  string
	VideoURIs []string
	// Err is set in the failed and timed out states.
	Err error
	// NextPollAt is when the next query is scheduled; zero when none is pending.
	NextPollAt time.Time
	UpdatedAt  time.Time
}

// Querier fetches the current state of an operation.
type Querier interface {
	Query(ctx context.Context, operationName string) (generation.Operation, error)
}

// Config holds the pacing and patience parameters.
type Config struct {
	// MaxAttempts is the attempt ceiling; the chain times out once exceeded.
	MaxAttempts int
	// InitialDelay is the floor for the first poll after submission.
	InitialDelay time.Duration
	// PollDelay is the floor for every later poll.
	PollDelay time.Duration
}

// DefaultConfig returns the standard pacing: 24 attempts, 6s then 8s floors.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  24,
		InitialDelay: 6 * time.Second,
		PollDelay:    8 * time.Second,
	}
}

// Poller tracks a single operation at a time. Tracking a new operation
// cancels the previous chain; results from a superseded chain are dropped.
type Poller struct {
	querier   Querier
	scheduler Scheduler
	observer  Observer
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time

	mu     sync.Mutex
	status Status
	chain  uint64
	timer  Timer
	cancel context.CancelFunc
}

// Option configures a Poller.
type Option func(*Poller)

// WithScheduler sets the scheduler used to delay polls.
func WithScheduler(s Scheduler) Option {
	return func(p *Poller) {
		p.scheduler = s
	}
}

// WithObserver sets the observer notified of transitions.
func WithObserver(o Observer) Option {
	return func(p *Poller) {
		p.observer = o
	}
}

// WithConfig overrides the pacing configuration. Non-positive fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(p *Poller) {
		if cfg.MaxAttempts > 0 {
			p.cfg.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.InitialDelay > 0 {
			p.cfg.InitialDelay = cfg.InitialDelay
		}
		if cfg.PollDelay > 0 {
			p.cfg.PollDelay = cfg.PollDelay
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock sets the time source used for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

// New creates a Poller that queries q.
func New(q Querier, opts ...Option) *Poller {
	p := &Poller{
		querier:   q,
		scheduler: RealScheduler{},
		observer:  NopObserver{},
		logger:    slog.Default(),
		cfg:       DefaultConfig(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.status = Status{State: StateIdle, UpdatedAt: p.now()}
	return p
}

// Status returns a snapshot of the current chain.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Track starts a new chain for op, cancelling any pending one. A submission
// that is already resolved short-circuits to a terminal state without
// querying. ctx bounds every query of the chain.
func (p *Poller) Track(ctx context.Context, op generation.Operation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.chain++
	chain := p.chain

	p.status = Status{
		State:         StateSubmitted,
		OperationName: op.OperationName,
		Message:       MessageAwaiting,
		UpdatedAt:     p.now(),
	}

	if p.resolveLocked(op, "submit") {
		return
	}

	chainCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.scheduleLocked(chainCtx, chain, nextDelay(op.Throttle(), p.cfg.InitialDelay))
	p.observer.OnProgress(p.snapshotLocked())
}

// Cancel stops the pending chain, if any. In-flight query results are discarded.
func (p *Poller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.chain++
	if p.status.State == StateSubmitted || p.status.State == StatePolling {
		p.status.State = StateCancelled
		p.status.Message = MessageCancelled
		p.status.NextPollAt = time.Time{}
		p.status.UpdatedAt = p.now()
		p.logger.Debug("poll chain cancelled", slog.String("operation", p.status.OperationName))
	}
}

func (p *Poller) poll(ctx context.Context, chain uint64) {
	p.mu.Lock()
	if chain != p.chain || p.status.State.IsTerminal() {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.status.State = StatePolling
	p.status.NextPollAt = time.Time{}
	name := p.status.OperationName
	p.mu.Unlock()

	op, err := p.querier.Query(ctx, name)

	p.mu.Lock()
	defer p.mu.Unlock()

	if chain != p.chain {
		p.logger.Debug("dropping result of superseded poll", slog.String("operation", name))
		return
	}

	if err != nil {
		var pe *generation.ProviderError
		if !errors.As(err, &pe) {
			err = &generation.ProviderError{Op: "query", Err: err}
		}
		p.failLocked(err)
		return
	}

	p.status.Attempts++
	p.status.Message = MessageRendering
	p.status.UpdatedAt = p.now()

	if p.resolveLocked(op, "query") {
		return
	}

	if p.status.Attempts > p.cfg.MaxAttempts {
		p.timeoutLocked()
		return
	}

	p.scheduleLocked(ctx, chain, nextDelay(op.Throttle(), p.cfg.PollDelay))
	p.observer.OnProgress(p.snapshotLocked())
}

// resolveLocked moves to a terminal state if op is resolved and reports whether it did.
// A done operation without output and without an error is a failure.
func (p *Poller) resolveLocked(op generation.Operation, source string) bool {
	switch {
	case op.Failed():
		p.failLocked(&generation.ProviderError{Op: source, Err: errors.New(op.Error)})
	case op.Succeeded():
		p.releaseLocked()
		p.status.State = StateSucceeded
		p.status.Message = MessageCompleted
		p.status.VideoURIs = slices.Clone(op.VideoURIs)
		p.status.VideoURI = op.PrimaryURI()
		p.status.UpdatedAt = p.now()
		p.observer.OnSuccess(p.snapshotLocked())
	case op.Done:
		p.failLocked(&generation.ProviderError{Op: source, Err: generation.ErrEmptyResult})
	default:
		return false
	}
	return true
}

func (p *Poller) failLocked(err error) {
	p.releaseLocked()
	p.status.State = StateFailed
	p.status.Message = MessageFailed
	p.status.Err = err
	p.status.UpdatedAt = p.now()
	p.observer.OnFailure(p.snapshotLocked())
}

func (p *Poller) timeoutLocked() {
	p.releaseLocked()
	p.status.State = StateTimedOut
	p.status.Message = MessageTimedOut
	p.status.Err = generation.ErrTimeoutExceeded
	p.status.UpdatedAt = p.now()
	p.observer.OnTimeout(p.snapshotLocked())
}

func (p *Poller) scheduleLocked(ctx context.Context, chain uint64, delay time.Duration) {
	p.status.NextPollAt = p.now().Add(delay)
	p.timer = p.scheduler.AfterFunc(delay, func() {
		p.poll(ctx, chain)
	})
}

// stopLocked stops the pending timer and cancels in-flight queries.
func (p *Poller) stopLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.releaseLocked()
}

func (p *Poller) releaseLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.status.NextPollAt = time.Time{}
}

func (p *Poller) snapshotLocked() Status {
	s := p.status
	s.VideoURIs = slices.Clone(p.status.VideoURIs)
	return s
}

// nextDelay never goes below the provider's suggestion or the floor.
func nextDelay(suggested, floor time.Duration) time.Duration {
	return max(suggested, floor)
}
