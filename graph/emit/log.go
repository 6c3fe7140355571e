package emit

import (
	"context"
	"log/slog"
)

// LogEmitter writes each event as one structured log record.
//
// Node payloads are not logged; only the node status is. Node failures are
// logged at warn level, everything else at the emitter's level.
//
// Example text output (slog.TextHandler):
//
//	level=INFO msg=status_update run_id=3f2a step=2 node_id=sub status=executing
type LogEmitter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogEmitter returns a LogEmitter writing to logger at level. A nil
// logger uses slog.Default().
func NewLogEmitter(logger *slog.Logger, level slog.Level) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger, level: level}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	attrs := []slog.Attr{slog.String("run_id", event.RunID)}
	if event.Step > 0 {
		attrs = append(attrs, slog.Int("step", event.Step))
	}
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node_id", event.NodeID))
	}

	level := l.level
	for _, k := range []string{"status", "progress", "cancelled", "duration_ms", "message"} {
		if v, ok := event.Meta[k]; ok {
			attrs = append(attrs, slog.Any(k, v))
		}
	}
	if updates, ok := event.Meta["updates"].([]StatusUpdate); ok {
		attrs = append(attrs, slog.Int("nodes", len(updates)))
	}
	if errText, ok := event.Meta["error"].(string); ok {
		attrs = append(attrs, slog.String("error", errText))
		level = slog.LevelWarn
	}
	if event.Msg == MsgError {
		level = slog.LevelWarn
	}

	l.logger.LogAttrs(context.Background(), level, event.Msg, attrs...)
}
