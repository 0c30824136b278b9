package poller

import "log/slog"

// Observer receives the poller's status updates and terminal notifications.
// Callbacks run while the poller holds its lock and must not call back into
// the Poller that invoked them.
type Observer interface {
	// OnProgress reports a non-terminal transition.
	OnProgress(s Status)
	// OnSuccess reports that the operation produced output.
	OnSuccess(s Status)
	// OnFailure reports a hard failure; s.Err holds the cause.
	OnFailure(s Status)
	// OnTimeout reports that the attempt ceiling was reached.
	OnTimeout(s Status)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) OnProgress(Status) {}
func (NopObserver) OnSuccess(Status)  {}
func (NopObserver) OnFailure(Status)  {}
func (NopObserver) OnTimeout(Status)  {}

// MultiObserver fans notifications out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) OnProgress(s Status) {
	for _, o := range m {
		o.OnProgress(s)
	}
}

func (m MultiObserver) OnSuccess(s Status) {
	for _, o := range m {
		o.OnSuccess(s)
	}
}

func (m MultiObserver) OnFailure(s Status) {
	for _, o := range m {
		o.OnFailure(s)
	}
}

func (m MultiObserver) OnTimeout(s Status) {
	for _, o := range m {
		o.OnTimeout(s)
	}
}

// LogObserver writes each transition to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

// NewLogObserver returns a LogObserver; a nil logger uses slog.Default().
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{Logger: logger}
}

func (o *LogObserver) OnProgress(s Status) {
	o.Logger.Info("generation progress",
		slog.String("operation", s.OperationName),
		slog.String("state", string(s.State)),
		slog.Int("attempts", s.Attempts),
		slog.String("message", s.Message),
		slog.Time("next_poll_at", s.NextPollAt),
	)
}

func (o *LogObserver) OnSuccess(s Status) {
	o.Logger.Info("generation succeeded",
		slog.String("operation", s.OperationName),
		slog.Int("attempts", s.Attempts),
		slog.String("video_uri", s.VideoURI),
	)
}

func (o *LogObserver) OnFailure(s Status) {
	msg := ""
	if s.Err != nil {
		msg = s.Err.Error()
	}
	o.Logger.Error("generation failed",
		slog.String("operation", s.OperationName),
		slog.Int("attempts", s.Attempts),
		slog.String("error", msg),
	)
}

func (o *LogObserver) OnTimeout(s Status) {
	o.Logger.Warn("generation timed out",
		slog.String("operation", s.OperationName),
		slog.Int("attempts", s.Attempts),
	)
}

// Compile-time checks.
var (
	_ Observer = NopObserver{}
	_ Observer = MultiObserver(nil)
	_ Observer = (*LogObserver)(nil)
)
