package activitymap

import (
	"context"

	access "github.com/goliatone/go-access"
)

// LogSink writes normalized activity records to a Logger.
type LogSink struct {
	logger access.Logger
	opts   []Option
}

var _ access.ActivitySink = (*LogSink)(nil)

// NewLogSink returns a sink that logs every event at info level.
func NewLogSink(logger access.Logger, opts ...Option) *LogSink {
	if logger == nil {
		logger = access.NewSlogLogger(nil)
	}
	return &LogSink{logger: logger, opts: opts}
}

// Record implements access.ActivitySink.
func (s *LogSink) Record(ctx context.Context, event access.ActivityEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := Normalize(event, s.opts...)
	args := []any{
		"verb", rec.Verb,
		"actor_id", rec.ActorID,
		"object_type", rec.ObjectType,
		"channel", rec.Channel,
		"occurred_at", rec.OccurredAt,
	}
	if rec.ObjectID != "" {
		args = append(args, "object_id", rec.ObjectID)
	}
	if len(rec.Metadata) > 0 {
		args = append(args, "metadata", rec.Metadata)
	}
	s.logger.Info("activity", args...)
	return nil
}

// Fanout delivers each event to every sink and returns the first error.
func Fanout(sinks ...access.ActivitySink) access.ActivitySink {
	return access.ActivitySinkFunc(func(ctx context.Context, event access.ActivityEvent) error {
		var first error
		for _, sink := range sinks {
			if sink == nil {
				continue
			}
			if err := sink.Record(ctx, event); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
