package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/polla-consensus/internal/progress"
)

// LogSink mirrors events into the operational log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.Int64("seq", evt.Seq),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Source != "" {
			fields = append(fields, zap.String("source", evt.Source))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		for k, v := range evt.Attrs {
			fields = append(fields, zap.Any(k, v))
		}
		switch evt.Stage {
		case progress.StageSourceError, progress.StageSourceMissingURL, progress.StagePipelineError:
			s.logger.Warn("pipeline event", fields...)
		default:
			s.logger.Info("pipeline event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
