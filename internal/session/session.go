// Package session keeps the lifecycle state of one caller's generations:
// normalize, submit, then short-circuit or poll until a terminal state.
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/maauso/veo-studio-api/internal/generation"
	"github.com/maauso/veo-studio-api/internal/poller"
	"github.com/maauso/veo-studio-api/internal/provider"
)

// StateDispatching is reported while the submission is in flight.
const StateDispatching poller.State = "dispatching"

// MessageDispatching is the status message while submitting.
const MessageDispatching = "Dispatching prompt to Veo orchestration..."

// Notification kinds.
const (
	NotifySuccess = "success"
	NotifyFailure = "failure"
	NotifyTimeout = "timeout"
)

// ErrSessionClosed is returned when generating in a deleted session.
var ErrSessionClosed = errors.New("session: closed")

// Notification is the one-shot user-facing outcome of a generation.
type Notification struct {
	Kind        string
	Title       string
	Description string
}

// Archiver copies a finished video to durable storage.
type Archiver interface {
	Archive(ctx context.Context, operationName, videoURI string) (string, error)
}

// Snapshot is a coherent view of a session.
type Snapshot struct {
	poller.Status
	ID           string
	ArchivedURL  string
	Notification *Notification
	CreatedAt    time.Time
}

// Session tracks at most one generation at a time. Starting a new generation
// cancels the pending one.
type Session struct {
	id             string
	provider       provider.Provider
	poller         *poller.Poller
	archiver       Archiver
	archiveTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
	createdAt      time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// genMu serializes Generate calls. It is never held by observer callbacks.
	genMu sync.Mutex

	mu           sync.Mutex
	generation   uint64
	overlay      *poller.Status
	notification *Notification
	archivedURL  string
}

func newSession(id string, p provider.Provider, m *Manager) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	logger := m.logger.With(slog.String("session", id))

	s := &Session{
		id:             id,
		provider:       p,
		archiver:       m.archiver,
		archiveTimeout: m.archiveTimeout,
		logger:         logger,
		now:            m.now,
		createdAt:      m.now(),
		ctx:            ctx,
		cancel:         cancel,
	}

	opts := []poller.Option{
		poller.WithConfig(m.pollConfig),
		poller.WithObserver(poller.MultiObserver{observer{s}, poller.NewLogObserver(logger)}),
		poller.WithLogger(logger),
		poller.WithClock(m.now),
	}
	if m.scheduler != nil {
		opts = append(opts, poller.WithScheduler(m.scheduler))
	}
	s.poller = poller.New(p, opts...)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Generate normalizes raw, cancels any pending chain, submits the request and
// starts tracking the returned operation. A validation failure leaves the
// current chain untouched. A submission failure moves the session to failed
// and is returned.
func (s *Session) Generate(ctx context.Context, raw map[string]any) (Snapshot, error) {
	req, err := generation.Normalize(raw)
	if err != nil {
		return Snapshot{}, err
	}

	s.genMu.Lock()
	defer s.genMu.Unlock()

	if s.ctx.Err() != nil {
		return Snapshot{}, ErrSessionClosed
	}

	s.poller.Cancel()

	s.mu.Lock()
	s.generation++
	s.notification = nil
	s.archivedURL = ""
	s.overlay = &poller.Status{
		State:     StateDispatching,
		Message:   MessageDispatching,
		UpdatedAt: s.now(),
	}
	s.mu.Unlock()

	s.logger.Info("submitting generation",
		slog.String("provider", s.provider.Name()),
		slog.Int("duration_seconds", req.DurationSeconds),
		slog.String("aspect_ratio", req.AspectRatio),
		slog.Bool("reference_image", req.HasReferenceImage()),
	)

	op, err := s.provider.Submit(ctx, req)
	if err != nil {
		s.logger.Error("submission failed", slog.String("error", err.Error()))
		s.mu.Lock()
		s.overlay = &poller.Status{
			State:     poller.StateFailed,
			Message:   poller.MessageFailed,
			Err:       err,
			UpdatedAt: s.now(),
		}
		s.notification = &Notification{Kind: NotifyFailure, Title: "Generation failed", Description: err.Error()}
		s.mu.Unlock()
		return s.Snapshot(), err
	}

	if s.ctx.Err() != nil {
		return Snapshot{}, ErrSessionClosed
	}

	s.poller.Track(s.ctx, op)

	s.mu.Lock()
	s.overlay = nil
	s.mu.Unlock()

	return s.Snapshot(), nil
}

// Snapshot returns the current status.
func (s *Session) Snapshot() Snapshot {
	status := s.poller.Status()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.overlay != nil {
		status = *s.overlay
	}
	snap := Snapshot{
		Status:      status,
		ID:          s.id,
		ArchivedURL: s.archivedURL,
		CreatedAt:   s.createdAt,
	}
	snap.VideoURIs = slices.Clone(status.VideoURIs)
	if s.notification != nil {
		n := *s.notification
		snap.Notification = &n
	}
	return snap
}

// Close cancels the pending chain and any in-flight archive.
func (s *Session) Close() {
	s.cancel()
	s.poller.Cancel()
}

func (s *Session) notify(n *Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notification = n
}

func (s *Session) archive(gen uint64, operationName, videoURI string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.archiveTimeout)
	defer cancel()

	url, err := s.archiver.Archive(ctx, operationName, videoURI)
	if err != nil {
		s.logger.Warn("archive failed",
			slog.String("operation", operationName),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.archivedURL = url
}

// observer records poller outcomes on the session. It runs under the
// poller's lock, so it only touches session fields guarded by s.mu.
type observer struct {
	s *Session
}

func (o observer) OnProgress(poller.Status) {}

func (o observer) OnSuccess(st poller.Status) {
	o.s.notify(&Notification{
		Kind:        NotifySuccess,
		Title:       "Veo render complete",
		Description: "Your video is ready to review.",
	})
	if o.s.archiver == nil || st.VideoURI == "" {
		return
	}
	o.s.mu.Lock()
	gen := o.s.generation
	o.s.mu.Unlock()
	go o.s.archive(gen, st.OperationName, st.VideoURI)
}

func (o observer) OnFailure(st poller.Status) {
	desc := poller.MessageFailed
	if st.Err != nil {
		desc = st.Err.Error()
	}
	o.s.notify(&Notification{Kind: NotifyFailure, Title: "Failed to fetch render status", Description: desc})
}

func (o observer) OnTimeout(poller.Status) {
	o.s.notify(&Notification{
		Kind:        NotifyTimeout,
		Title:       "Timed out waiting for Veo",
		Description: "Try regenerating with updated parameters.",
	})
}

var _ poller.Observer = observer{}
