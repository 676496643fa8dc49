package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/movie-index/internal/progress"
)

// LogSink writes each progress event as a structured debug line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger; a nil logger discards everything.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageListingDone:
			fields = append(fields,
				zap.String("site", evt.Site),
				zap.String("source", evt.Source),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int64("bytes", evt.Bytes),
				zap.Int64("titles", evt.Titles),
			)
		case progress.StageLookupDone:
			fields = append(fields,
				zap.String("title", evt.Title),
				zap.String("outcome", string(evt.Outcome)),
			)
		}
		fields = append(fields, zap.Duration("dur", evt.Dur))
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
