package poller_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/veo-studio-api/internal/generation"
	"github.com/maauso/veo-studio-api/internal/poller"
	"github.com/maauso/veo-studio-api/internal/poller/pollertest"
)

// mockQuerier implements poller.Querier for testing.
type mockQuerier struct {
	mock.Mock
}

func (m *mockQuerier) Query(ctx context.Context, name string) (generation.Operation, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(generation.Operation), args.Error(1)
}

// event is one observer notification.
type event struct {
	kind   string
	status poller.Status
}

// recorder is an Observer that keeps every notification.
type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) add(kind string, s poller.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind: kind, status: s})
}

func (r *recorder) OnProgress(s poller.Status) { r.add("progress", s) }
func (r *recorder) OnSuccess(s poller.Status)  { r.add("success", s) }
func (r *recorder) OnFailure(s poller.Status)  { r.add("failure", s) }
func (r *recorder) OnTimeout(s poller.Status)  { r.add("timeout", s) }

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.kind
	}
	return out
}

func (r *recorder) count(kind string) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event, len(r.events))
	copy(out, r.events)
	return out
}

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestPoller(q poller.Querier) (*poller.Poller, *pollertest.Scheduler, *recorder) {
	sched := pollertest.NewScheduler()
	rec := &recorder{}
	p := poller.New(q,
		poller.WithScheduler(sched),
		poller.WithObserver(rec),
		poller.WithClock(func() time.Time { return epoch }),
	)
	return p, sched, rec
}

func pending(name string) generation.Operation {
	return generation.Operation{OperationName: name}
}

func finished(name string, uris ...string) generation.Operation {
	return generation.Operation{OperationName: name, Done: true, VideoURIs: uris}
}

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    poller.State
		terminal bool
	}{
		{poller.StateIdle, false},
		{poller.StateSubmitted, false},
		{poller.StatePolling, false},
		{poller.StateSucceeded, true},
		{poller.StateFailed, true},
		{poller.StateTimedOut, true},
		{poller.StateCancelled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	p := poller.New(&mockQuerier{})
	s := p.Status()
	assert.Equal(t, poller.StateIdle, s.State)
	assert.Empty(t, s.OperationName)

	cfg := poller.DefaultConfig()
	assert.Equal(t, 24, cfg.MaxAttempts)
	assert.Equal(t, 6*time.Second, cfg.InitialDelay)
	assert.Equal(t, 8*time.Second, cfg.PollDelay)
}

func TestTrack_ShortCircuitsCompletedSubmission(t *testing.T) {
	q := &mockQuerier{}
	p, sched, rec := newTestPoller(q)

	p.Track(context.Background(), finished("ops/1", "https://cdn/a.mp4", "https://cdn/b.mp4"))

	s := p.Status()
	assert.Equal(t, poller.StateSucceeded, s.State)
	assert.Equal(t, "https://cdn/a.mp4", s.VideoURI)
	assert.Equal(t, []string{"https://cdn/a.mp4", "https://cdn/b.mp4"}, s.VideoURIs)
	assert.Equal(t, poller.MessageCompleted, s.Message)
	assert.Zero(t, s.Attempts)
	assert.Equal(t, 0, sched.Pending())
	assert.Equal(t, []string{"success"}, rec.kinds())
	q.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
}

func TestTrack_CompletedSubmissionWithoutOutputFails(t *testing.T) {
	q := &mockQuerier{}
	p, sched, rec := newTestPoller(q)

	p.Track(context.Background(), finished("ops/1"))

	s := p.Status()
	assert.Equal(t, poller.StateFailed, s.State)
	assert.ErrorIs(t, s.Err, generation.ErrEmptyResult)
	assert.Equal(t, 0, sched.Pending())
	assert.Equal(t, []string{"failure"}, rec.kinds())
	q.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
}

func TestTrack_SchedulesFirstPoll(t *testing.T) {
	q := &mockQuerier{}
	p, sched, rec := newTestPoller(q)

	p.Track(context.Background(), pending("ops/1"))

	s := p.Status()
	assert.Equal(t, poller.StateSubmitted, s.State)
	assert.Equal(t, poller.MessageAwaiting, s.Message)
	assert.Equal(t, epoch.Add(6*time.Second), s.NextPollAt)
	assert.Equal(t, 1, sched.Pending())
	assert.Equal(t, []time.Duration{6 * time.Second}, sched.Delays())
	assert.Equal(t, []string{"progress"}, rec.kinds())
}

func TestPoll_SucceedsOnLastAllowedAttempt(t *testing.T) {
	q := &mockQuerier{}
	q.On("Query", mock.Anything, "ops/1").Return(pending("ops/1"), nil).Times(23)
	q.On("Query", mock.Anything, "ops/1").Return(finished("ops/1", "https://cdn/final.mp4"), nil).Once()

	p, sched, rec := newTestPoller(q)
	p.Track(context.Background(), pending("ops/1"))

	ran := sched.RunAll(100)
	assert.Equal(t, 24, ran)

	s := p.Status()
	assert.Equal(t, poller.StateSucceeded, s.State)
	assert.Equal(t, 24, s.Attempts)
	assert.Equal(t, "https://cdn/final.mp4", s.VideoURI)
	assert.Equal(t, 1, rec.count("success"))
	assert.Equal(t, 0, rec.count("timeout"))
	q.AssertNumberOfCalls(t, "Query", 24)
}

func TestPoll_TimesOutAfterCeiling(t *testing.T) {
	q := &mockQuerier{}
	q.On("Query", mock.Anything, "ops/1").Return(pending("ops/1"), nil)

	p, sched, rec := newTestPoller(q)
	p.Track(context.Background(), pending("ops/1"))

	sched.RunAll(100)

	s := p.Status()
	assert.Equal(t, poller.StateTimedOut, s.State)
	assert.Equal(t, 25, s.Attempts)
	assert.ErrorIs(t, s.Err, generation.ErrTimeoutExceeded)
	assert.Equal(t, poller.MessageTimedOut, s.Message)
	assert.Equal(t, 1, rec.count("timeout"))
	assert.Equal(t, 0, rec.count("success"))
	assert.Equal(t, 0, rec.count("failure"))
	assert.Equal(t, 0, sched.Pending())
	q.AssertNumberOfCalls(t, "Query", 25)
}

func TestPoll_CustomCeiling(t *testing.T) {
	q := &mockQuerier{}
	q.On("Query", mock.Anything, "ops/1").Return(pending("ops/1"), nil)

	sched := pollertest.NewScheduler()
	p := poller.New(q, poller.WithScheduler(sched), poller.WithConfig(poller.Config{MaxAttempts: 2}))
	p.Track(context.Background(), pending("ops/1"))
	sched.RunAll(100)

	assert.Equal(t, poller.StateTimedOut, p.Status().State)
	q.AssertNumberOfCalls(t, "Query", 3)
}

func TestPoll_QueryErrorFailsImmediately(t *testing.T) {
	q := &mockQuerier{}
	q.On("Query", mock.Anything, "ops/1").Return(pending("ops/1"), nil).Times(2)
	q.On("Query", mock.Anything, "ops/1").Return(generation.Operation{}, errors.New("connection reset")).Once()

	p, sched, rec := newTestPoller(q)
	p.Track(context.Background(), pending("ops/1"))

	sched.RunAll(100)

	s := p.Status()
	assert.Equal(t, poller.StateFailed, s.State)
	assert.Equal(t, poller.MessageFailed, s.Message)
	assert.Equal(t, 2, s.Attempts)
	require.Error(t, s.Err)

	var pe *generation.ProviderError
	require.True(t, errors.As(s.Err, &pe))
	assert.Equal(t, "query", pe.Op)
	assert.Contains(t, s.Err.Error(), "connection reset")

	assert.Equal(t, 0, sched.Pending())
	assert.Equal(t, 1, rec.count("failure"))
	q.AssertNumberOfCalls(t, "Query", 3)
}

func TestPoll_ExplicitProviderErrorFails(t *testing.T) {
	q := &mockQuerier{}
	q.On("Query", mock.Anything, "ops/1").
		Return(generation.Operation{OperationName: "ops/1", Done: true, Error: "quota exceeded"}, nil).Once()

	p, sched, _ := newTestPoller(q)
	p.Track(context.Background(), pending("ops/1"))
	sched.RunAll(100)

	s := p.Status()
	assert.Equal(t, poller.StateFailed, s.State)
	assert.Contains(t, s.Err.Error(), "quota exceeded")
}

func TestPoll_DoneWithoutOutputFails(t *testing.T) {
	q := &mockQuerier{}
	q.On("Query", mock.Anything, "ops/1").Return(finished("ops/1"), nil).Once()

	p, sched, _ := newTestPoller(q)
	p.Track(context.Background(), pending("ops/1"))
	sched.RunAll(100)

	s := p.Status()
	assert.Equal(t, poller.StateFailed, s.State)
	assert.ErrorIs(t, s.Err, generation.ErrEmptyResult)
	q.AssertNumberOfCalls(t, "Query", 1)
}

func TestPoll_PacingHonorsProviderSuggestion(t *testing.T) {
	q := &mockQuerier{}
	q.On("Query", mock.Anything, "ops/1").Return(generation.Operation{OperationName: "ops/1", ThrottleSeconds: 20}, nil).Once()
	q.On("Query", mock.Anything, "ops/1").Return(generation.Operation{OperationName: "ops/1", ThrottleSeconds: 2}, nil).Once()
	q.On("Query", mock.Anything, "ops/1").Return(pending("ops/1"), nil).Once()
	q.On("Query", mock.Anything, "ops/1").Return(finished("ops/1", "https://cdn/x.mp4"), nil).Once()

	p, sched, _ := newTestPoller(q)
	p.Track(context.Background(), generation.Operation{OperationName: "ops/1", ThrottleSeconds: 9})
	sched.RunAll(100)

	assert.Equal(t, []time.Duration{
		9 * time.Second,  // submission suggestion above the 6s floor
		20 * time.Second, // provider asks for more than the 8s floor
		8 * time.Second,  // suggestion below floor
		8 * time.Second,  // no suggestion
	}, sched.Delays())
	assert.Equal(t, poller.StateSucceeded, p.Status().State)
}

func TestPoll_DelayNeverBelowSuggestion(t *testing.T) {
	suggestions := []float64{0, 0.5, 3, 6, 7.5, 8, 12, 45}
	for _, sec := range suggestions {
		q := &mockQuerier{}
		q.On("Query", mock.Anything, "ops/1").
			Return(generation.Operation{OperationName: "ops/1", ThrottleSeconds: sec}, nil).Once()
		q.On("Query", mock.Anything, "ops/1").Return(finished("ops/1", "u"), nil).Once()

		p, sched, _ := newTestPoller(q)
		p.Track(context.Background(), generation.Operation{OperationName: "ops/1", ThrottleSeconds: sec})
		sched.RunAll(10)

		suggested := time.Duration(sec * float64(time.Second))
		for _, d := range sched.Delays() {
			assert.GreaterOrEqual(t, d, suggested)
		}
	}
}

func TestTrack_CancelsPreviousChain(t *testing.T) {
	q := &mockQuerier{}
	q.On("Query", mock.Anything, "ops/B").Return(finished("ops/B", "https://cdn/b.mp4"), nil).Once()

	p, sched, rec := newTestPoller(q)
	p.Track(context.Background(), pending("ops/A"))
	first := sched.Tasks()[0]

	p.Track(context.Background(), pending("ops/B"))
	assert.Equal(t, 1, sched.Pending())

	// The stale timer fires anyway.
	sched.Fire(first)
	sched.RunAll(100)

	s := p.Status()
	assert.Equal(t, poller.StateSucceeded, s.State)
	assert.Equal(t, "ops/B", s.OperationName)
	q.AssertNotCalled(t, "Query", mock.Anything, "ops/A")

	for _, e := range rec.snapshot()[1:] {
		assert.Equal(t, "ops/B", e.status.OperationName)
	}
}

func TestTrack_DiscardsInFlightResultOfSupersededChain(t *testing.T) {
	q := &mockQuerier{}
	p, sched, rec := newTestPoller(q)

	var staleCtx context.Context
	q.On("Query", mock.Anything, "ops/A").Run(func(args mock.Arguments) {
		staleCtx = args.Get(0).(context.Context)
		// A new submission arrives while the query is in flight.
		p.Track(context.Background(), pending("ops/B"))
	}).Return(finished("ops/A", "https://cdn/a.mp4"), nil).Once()
	q.On("Query", mock.Anything, "ops/B").Return(pending("ops/B"), nil)

	p.Track(context.Background(), pending("ops/A"))
	require.True(t, sched.RunNext())

	require.NotNil(t, staleCtx)
	assert.ErrorIs(t, staleCtx.Err(), context.Canceled)

	events := rec.snapshot()
	bStart := -1
	for i, e := range events {
		if e.status.OperationName == "ops/B" {
			bStart = i
			break
		}
	}
	require.NotEqual(t, -1, bStart)
	for _, e := range events[bStart:] {
		assert.Equal(t, "ops/B", e.status.OperationName)
	}
	assert.Equal(t, 0, rec.count("success"))

	s := p.Status()
	assert.Equal(t, "ops/B", s.OperationName)
	assert.Equal(t, poller.StateSubmitted, s.State)
	assert.Equal(t, 0, s.Attempts)
}

func TestCancel(t *testing.T) {
	q := &mockQuerier{}
	p, sched, rec := newTestPoller(q)

	p.Track(context.Background(), pending("ops/1"))
	first := sched.Tasks()[0]
	p.Cancel()

	s := p.Status()
	assert.Equal(t, poller.StateCancelled, s.State)
	assert.True(t, s.NextPollAt.IsZero())
	assert.Equal(t, 0, sched.Pending())

	sched.Fire(first)
	q.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
	assert.Equal(t, []string{"progress"}, rec.kinds())
}

func TestCancel_KeepsTerminalState(t *testing.T) {
	p, _, _ := newTestPoller(&mockQuerier{})
	p.Track(context.Background(), finished("ops/1", "u"))
	p.Cancel()
	assert.Equal(t, poller.StateSucceeded, p.Status().State)
}

func TestStatus_ReturnsCopy(t *testing.T) {
	p, _, _ := newTestPoller(&mockQuerier{})
	p.Track(context.Background(), finished("ops/1", "a", "b"))

	s := p.Status()
	s.VideoURIs[0] = "mutated"
	assert.Equal(t, "a", p.Status().VideoURIs[0])
}

func TestPoller_RealScheduler(t *testing.T) {
	q := &mockQuerier{}
	q.On("Query", mock.Anything, "ops/1").Return(pending("ops/1"), nil).Once()
	q.On("Query", mock.Anything, "ops/1").Return(finished("ops/1", "https://cdn/x.mp4"), nil).Once()

	done := make(chan poller.Status, 1)
	obs := &channelObserver{done: done}
	p := poller.New(q,
		poller.WithObserver(poller.MultiObserver{obs, poller.NewLogObserver(nil)}),
		poller.WithConfig(poller.Config{InitialDelay: time.Millisecond, PollDelay: time.Millisecond}),
	)
	p.Track(context.Background(), pending("ops/1"))

	select {
	case s := <-done:
		assert.Equal(t, poller.StateSucceeded, s.State)
		assert.Equal(t, 2, s.Attempts)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not finish")
	}
}

// channelObserver signals the terminal status on a channel.
type channelObserver struct {
	poller.NopObserver
	done chan poller.Status
}

func (c *channelObserver) OnSuccess(s poller.Status) { c.done <- s }
func (c *channelObserver) OnFailure(s poller.Status) { c.done <- s }
func (c *channelObserver) OnTimeout(s poller.Status) { c.done <- s }

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	obs := poller.NewLogObserver(logger)

	obs.OnProgress(poller.Status{OperationName: "ops/1", State: poller.StatePolling, Attempts: 2})
	obs.OnSuccess(poller.Status{OperationName: "ops/1", VideoURI: "https://cdn/x.mp4"})
	obs.OnFailure(poller.Status{OperationName: "ops/1", Err: errors.New("boom")})
	obs.OnTimeout(poller.Status{OperationName: "ops/1", Attempts: 25})

	out := buf.String()
	assert.Contains(t, out, `"msg":"generation progress"`)
	assert.Contains(t, out, `"video_uri":"https://cdn/x.mp4"`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"msg":"generation timed out"`)
}

func TestMultiObserver_FansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := poller.MultiObserver{a, b}

	m.OnProgress(poller.Status{})
	m.OnSuccess(poller.Status{})
	m.OnFailure(poller.Status{})
	m.OnTimeout(poller.Status{})

	want := []string{"progress", "success", "failure", "timeout"}
	assert.Equal(t, want, a.kinds())
	assert.Equal(t, want, b.kinds())
}
