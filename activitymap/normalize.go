package activitymap

import (
	"maps"
	"strings"
	"time"

	access "github.com/goliatone/go-access"
)

const (
	// MetadataKeyActorType carries access.ActorRef.Type.
	MetadataKeyActorType  = "actor_type"
	MetadataKeyFromStatus = "from_status"
	MetadataKeyToStatus   = "to_status"
)

const (
	defaultChannel = "access"
	defaultActorID = "system"
)

// Record is the flattened shape handed to audit stores and log pipelines.
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization.
type Option func(*options)

type options struct {
	channel       string
	actorFallback string
	now           func() time.Time
}

// Normalize flattens an access.ActivityEvent. Resource events point at the
// menu node named in metadata, everything else points at the principal.
func Normalize(event access.ActivityEvent, opts ...Option) Record {
	o := options{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = o.now()
	}

	objectType, objectID := objectOf(event)

	return Record{
		ActorID: firstNonEmpty(
			strings.TrimSpace(event.Actor.ID),
			strings.TrimSpace(event.PrincipalID),
			o.actorFallback,
		),
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    o.channel,
		Metadata:   metadataOf(event),
		OccurredAt: occurredAt.UTC(),
	}
}

// WithChannel sets the channel stamped on every record.
func WithChannel(channel string) Option {
	return func(o *options) {
		if channel = strings.TrimSpace(channel); channel != "" {
			o.channel = channel
		}
	}
}

// WithActorFallback sets the actor id used when the event names none.
func WithActorFallback(actorID string) Option {
	return func(o *options) {
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			o.actorFallback = actorID
		}
	}
}

// WithClock stamps events that carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func objectOf(event access.ActivityEvent) (string, string) {
	switch event.EventType {
	case access.ActivityEventPolicyUpdated,
		access.ActivityEventResourceAdded,
		access.ActivityEventResourceToggled,
		access.ActivityEventResourceRemoved:
		name, _ := event.Metadata["resource"].(string)
		return "resource", strings.TrimSpace(name)
	case access.ActivityEventCleanupCompleted:
		return "cleanup", ""
	case access.ActivityEventLoginSuccess,
		access.ActivityEventLogout:
		return "session", strings.TrimSpace(event.PrincipalID)
	}
	return "principal", strings.TrimSpace(event.PrincipalID)
}

func metadataOf(event access.ActivityEvent) map[string]any {
	var md map[string]any
	if len(event.Metadata) > 0 {
		md = maps.Clone(event.Metadata)
	}

	set := func(key string, value any, overwrite bool) {
		if md == nil {
			md = map[string]any{}
		}
		if _, exists := md[key]; exists && !overwrite {
			return
		}
		md[key] = value
	}

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		set(MetadataKeyActorType, actorType, false)
	}
	if event.FromStatus != "" {
		set(MetadataKeyFromStatus, string(event.FromStatus), true)
	}
	if event.ToStatus != "" {
		set(MetadataKeyToStatus, string(event.ToStatus), true)
	}
	return md
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
