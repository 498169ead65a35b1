package activitymap_test

import (
	"context"
	"errors"
	"testing"
	"time"

	access "github.com/goliatone/go-access"
	"github.com/goliatone/go-access/activitymap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStatusChange(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := access.ActivityEvent{
		EventType:   access.ActivityEventStatusChanged,
		Actor:       access.ActorRef{ID: "admin-42", Type: "admin"},
		PrincipalID: "principal-100",
		FromStatus:  access.StatusRegistered,
		ToStatus:    access.StatusVerified,
		Metadata:    map[string]any{"reason": "force_verify"},
		OccurredAt:  ts,
	}

	out := activitymap.Normalize(event)

	assert.Equal(t, "admin-42", out.ActorID)
	assert.Equal(t, string(access.ActivityEventStatusChanged), out.Verb)
	assert.Equal(t, "principal", out.ObjectType)
	assert.Equal(t, "principal-100", out.ObjectID)
	assert.Equal(t, "access", out.Channel)
	assert.True(t, out.OccurredAt.Equal(ts))

	assert.Equal(t, "force_verify", out.Metadata["reason"])
	assert.Equal(t, "admin", out.Metadata[activitymap.MetadataKeyActorType])
	assert.Equal(t, string(access.StatusRegistered), out.Metadata[activitymap.MetadataKeyFromStatus])
	assert.Equal(t, string(access.StatusVerified), out.Metadata[activitymap.MetadataKeyToStatus])

	assert.Len(t, event.Metadata, 1, "source metadata must not be mutated")
}

func TestNormalizeObjectKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		event      access.ActivityEvent
		objectType string
		objectID   string
	}{
		{
			name: "policy update points at the resource",
			event: access.ActivityEvent{
				EventType: access.ActivityEventPolicyUpdated,
				Metadata:  map[string]any{"resource": "reports"},
			},
			objectType: "resource",
			objectID:   "reports",
		},
		{
			name:       "login points at the session owner",
			event:      access.ActivityEvent{EventType: access.ActivityEventLoginSuccess, PrincipalID: "p-1"},
			objectType: "session",
			objectID:   "p-1",
		},
		{
			name:       "cleanup has no object id",
			event:      access.ActivityEvent{EventType: access.ActivityEventCleanupCompleted},
			objectType: "cleanup",
		},
		{
			name:       "eviction points at the principal",
			event:      access.ActivityEvent{EventType: access.ActivityEventEvicted, PrincipalID: "p-2"},
			objectType: "principal",
			objectID:   "p-2",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitymap.Normalize(tc.event)
			assert.Equal(t, tc.objectType, out.ObjectType)
			assert.Equal(t, tc.objectID, out.ObjectID)
		})
	}
}

func TestNormalizeOptions(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	event := access.ActivityEvent{
		EventType: access.ActivityEventLoginFailure,
		Actor:     access.ActorRef{Type: "anonymous"},
		Metadata:  map[string]any{activitymap.MetadataKeyActorType: "existing"},
	}

	out := activitymap.Normalize(event,
		activitymap.WithChannel("security"),
		activitymap.WithActorFallback("gateway"),
		activitymap.WithClock(func() time.Time { return fixed }),
	)

	assert.Equal(t, "security", out.Channel)
	assert.Equal(t, "gateway", out.ActorID)
	assert.Equal(t, fixed, out.OccurredAt)
	assert.Equal(t, "existing", out.Metadata[activitymap.MetadataKeyActorType])
}

func TestNormalizeActorFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  access.ActivityEvent
		expect string
	}{
		{
			name:   "actor id wins",
			event:  access.ActivityEvent{Actor: access.ActorRef{ID: "actor-1"}, PrincipalID: "p-1"},
			expect: "actor-1",
		},
		{
			name:   "principal id when actor missing",
			event:  access.ActivityEvent{PrincipalID: "p-2"},
			expect: "p-2",
		},
		{
			name:   "system when nothing is set",
			event:  access.ActivityEvent{},
			expect: "system",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expect, activitymap.Normalize(tc.event).ActorID)
		})
	}
}

type logLine struct {
	msg  string
	args []any
}

type captureLogger struct {
	lines []logLine
}

func (c *captureLogger) Debug(msg string, args ...any) {}
func (c *captureLogger) Warn(msg string, args ...any)  {}
func (c *captureLogger) Error(msg string, args ...any) {}
func (c *captureLogger) Info(msg string, args ...any) {
	c.lines = append(c.lines, logLine{msg: msg, args: args})
}

func TestLogSinkRecord(t *testing.T) {
	logger := &captureLogger{}
	sink := activitymap.NewLogSink(logger)

	err := sink.Record(context.Background(), access.ActivityEvent{
		EventType:   access.ActivityEventRegistered,
		PrincipalID: "p-9",
		OccurredAt:  time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, logger.lines, 1)

	line := logger.lines[0]
	assert.Equal(t, "activity", line.msg)
	assert.Contains(t, line.args, string(access.ActivityEventRegistered))
	assert.Contains(t, line.args, "object_id")
	assert.NotContains(t, line.args, "metadata")
}

func TestLogSinkCanceledContext(t *testing.T) {
	logger := &captureLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := activitymap.NewLogSink(logger).Record(ctx, access.ActivityEvent{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, logger.lines)
}

func TestFanout(t *testing.T) {
	boom := errors.New("boom")
	var calls []string

	sink := activitymap.Fanout(
		access.ActivitySinkFunc(func(context.Context, access.ActivityEvent) error {
			calls = append(calls, "first")
			return boom
		}),
		nil,
		access.ActivitySinkFunc(func(context.Context, access.ActivityEvent) error {
			calls = append(calls, "second")
			return nil
		}),
	)

	err := sink.Record(context.Background(), access.ActivityEvent{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "second"}, calls)
}
