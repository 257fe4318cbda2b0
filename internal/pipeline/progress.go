package pipeline

import "log/slog"

// Stage identifies a pipeline phase in progress events.
type Stage string

const (
	StageConvert  Stage = "convert"
	StageDetect   Stage = "detect"
	StageGeometry Stage = "geometry"
	StageSegment  Stage = "segment"
	StageTable    Stage = "table"
	StagePersist  Stage = "persist"
	StageIndex    Stage = "index"
)

// Event statuses.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// Event reports a stage transition during a pipeline run.
type Event struct {
	Stage   Stage  `json:"stage"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

// ProgressFunc receives stage events. A nil func disables reporting.
type ProgressFunc func(Event)

func emit(fn ProgressFunc, ev Event) {
	if fn != nil {
		fn(ev)
	}
}

// LogProgress returns a ProgressFunc that writes events to the logger,
// failures at warn level and everything else at debug.
func LogProgress(logger *slog.Logger) ProgressFunc {
	return func(ev Event) {
		attrs := []any{"stage", string(ev.Stage), "status", ev.Status}
		if ev.Message != "" {
			attrs = append(attrs, "message", ev.Message)
		}
		if ev.Err != nil {
			attrs = append(attrs, "error", ev.Err)
			logger.Warn("pipeline stage", attrs...)
			return
		}
		logger.Debug("pipeline stage", attrs...)
	}
}

// MultiProgress fans events out to several receivers.
func MultiProgress(fns ...ProgressFunc) ProgressFunc {
	return func(ev Event) {
		for _, fn := range fns {
			emit(fn, ev)
		}
	}
}
