package event

// ActivationEvent is the closed tagged variant published on the activation
// channels (spec §3/§9 — no stringly-typed `detail.eventType` dispatch).
// Exactly one of the concrete types below satisfies it.
type ActivationEvent interface {
	ActivationID() string
	isActivationEvent()
}

// DebugLevel classifies a Debug event's severity.
type DebugLevel string

const (
	DebugInfo DebugLevel = "INFO"
	DebugWarn DebugLevel = "WARNING"
	DebugErr  DebugLevel = "ERROR"
	DebugPerf DebugLevel = "PERF"
)

// Start is published exactly once at the beginning of an activation.
type Start struct {
	ActivationIDValue string
	ModelID           int64
	ModelName         string
}

// Progress carries a monotonically non-decreasing percentage within a
// single activation id.
type Progress struct {
	ActivationIDValue string
	ProgressPct       int
	Message           string
	Step              string
}

// Debug is unbounded and may interleave freely with Progress events.
type Debug struct {
	ActivationIDValue string
	Level             DebugLevel
	Message           string
	TimestampUnixMS   int64
}

// Complete is terminal: progressPct is always 100, step is always "ready".
type Complete struct {
	ActivationIDValue string
	ModelID           int64
	ModelName         string
}

// Error is terminal.
type Error struct {
	ActivationIDValue string
	ErrorMessage      string
	ModelID           int64
	ModelName         string
}

func (e Start) ActivationID() string    { return e.ActivationIDValue }
func (e Progress) ActivationID() string { return e.ActivationIDValue }
func (e Debug) ActivationID() string    { return e.ActivationIDValue }
func (e Complete) ActivationID() string { return e.ActivationIDValue }
func (e Error) ActivationID() string    { return e.ActivationIDValue }

func (Start) isActivationEvent()    {}
func (Progress) isActivationEvent() {}
func (Debug) isActivationEvent()    {}
func (Complete) isActivationEvent() {}
func (Error) isActivationEvent()    {}

// IsTerminal reports whether e is a Complete or Error — the only variants
// after which no further events for the same activation id may be published.
func IsTerminal(e ActivationEvent) bool {
	switch e.(type) {
	case Complete, Error:
		return true
	default:
		return false
	}
}

// Channel names for the activation topics, combined with an activation id
// (":<id>") to form a full topic string.
const (
	ChannelActivationStart    = "activation:start"
	ChannelActivationProgress = "activation:progress"
	ChannelActivationDebug    = "activation:debug"
	ChannelActivationComplete = "activation:complete"
	ChannelActivationError    = "activation:error"

	ChannelActiveModelChanged  = "active-model-changed"
	ChannelWorkerStatusChanged = "worker-status-changed"
	ChannelDownloadActivity    = "download-activity"
)

func channelFor(e ActivationEvent) string {
	switch e.(type) {
	case Start:
		return ChannelActivationStart
	case Progress:
		return ChannelActivationProgress
	case Debug:
		return ChannelActivationDebug
	case Complete:
		return ChannelActivationComplete
	case Error:
		return ChannelActivationError
	default:
		return "activation:unknown"
	}
}
