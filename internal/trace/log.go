package trace

import (
	"context"

	"go.uber.org/zap"

	"github.com/stratolab/citeguard/pkg/utils"
)

// logQuestionLen caps the question text on the trace log line.
const logQuestionLen = 120

// LogSink writes trace records to the structured log. It is the default
// sink when no trace database is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Emit logs the record at info level. Prompts and raw answers are omitted
// from the log line; use the SQLite sink when full payloads are needed.
func (s *LogSink) Emit(_ context.Context, rec *Record) error {
	s.logger.Info("pipeline trace",
		zap.String("trace_id", rec.ID),
		zap.String("question", utils.Truncate(rec.Question, logQuestionLen)),
		zap.String("snapshot", rec.SnapshotVersion),
		zap.Int("candidates", len(rec.Candidates)),
		zap.Int("attempts", len(rec.Attempts)),
		zap.String("outcome", string(rec.Outcome)),
		zap.Int("citations", len(rec.Citations)),
		zap.Bool("system_error", rec.SystemError),
	)
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error { return nil }
