package access

import (
	"context"
	"fmt"
	"maps"
	"time"
)

// PrincipalStatus is derived from the principal flags.
type PrincipalStatus string

const (
	StatusRegistered PrincipalStatus = "registered"
	StatusVerified   PrincipalStatus = "verified"
	StatusDisabled   PrincipalStatus = "disabled"
	StatusPromoted   PrincipalStatus = "promoted"
	StatusEvicted    PrincipalStatus = "evicted"
)

// StatusOf maps the principal flags to a lifecycle status.
func StatusOf(p *Principal) PrincipalStatus {
	switch {
	case p == nil:
		return StatusEvicted
	case !p.EmailVerified:
		return StatusRegistered
	case !p.Active:
		return StatusDisabled
	case p.IsAdmin:
		return StatusPromoted
	default:
		return StatusVerified
	}
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor     ActorRef
	Principal *Principal
	From      PrincipalStatus
	To        PrincipalStatus
	Meta      TransitionMetadata
}

// TransitionHook is executed before the status update is persisted.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

type transitionOptions struct {
	metadata    TransitionMetadata
	force       bool
	beforeHooks []TransitionHook
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		maps.Copy(opts.metadata.Metadata, metadata)
	}
}

// WithForceTransition bypasses the transition table.
func WithForceTransition() TransitionOption {
	return func(opts *transitionOptions) {
		opts.force = true
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// AccountStateMachine applies admin driven status changes.
type AccountStateMachine struct {
	principals   PrincipalStore
	transitions  map[PrincipalStatus]map[PrincipalStatus]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*AccountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *AccountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *AccountStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *AccountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// NewAccountStateMachine returns a state machine persisting through principals.
func NewAccountStateMachine(principals PrincipalStore, opts ...StateMachineOption) *AccountStateMachine {
	sm := &AccountStateMachine{
		principals: principals,
		transitions: map[PrincipalStatus]map[PrincipalStatus]struct{}{
			StatusRegistered: {
				StatusVerified: {},
				StatusPromoted: {},
			},
			StatusVerified: {
				StatusDisabled: {},
				StatusPromoted: {},
			},
			StatusDisabled: {
				StatusVerified: {},
				StatusPromoted: {},
			},
			StatusPromoted: {
				StatusVerified: {},
				StatusDisabled: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}
	return sm
}

// CanTransition reports whether the table allows from -> to.
func (sm *AccountStateMachine) CanTransition(from, to PrincipalStatus) bool {
	_, ok := sm.transitions[from][to]
	return ok
}

// Transition moves principal to target and persists the new flags. Moving to
// the current status is a no-op. It returns ErrUpdateConflict when the stored
// flags no longer match principal.
func (sm *AccountStateMachine) Transition(ctx context.Context, actor ActorRef, principal *Principal, target PrincipalStatus, opts ...TransitionOption) (*Principal, error) {
	if principal == nil {
		return nil, fmt.Errorf("principal is nil: %w", ErrInvalidTransition)
	}

	from := StatusOf(principal)
	if from == target {
		return principal, nil
	}

	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	if !options.force && !sm.CanTransition(from, target) {
		return nil, fmt.Errorf("%s -> %s: %w", from, target, ErrInvalidTransition)
	}

	tc := TransitionContext{
		Actor:     actor,
		Principal: principal,
		From:      from,
		To:        target,
		Meta:      options.metadata,
	}
	for _, hook := range options.beforeHooks {
		if err := hook(ctx, tc); err != nil {
			return nil, err
		}
	}

	next := principal.Clone()
	switch target {
	case StatusVerified:
		next.Active, next.EmailVerified, next.IsAdmin = true, true, false
	case StatusPromoted:
		next.Active, next.EmailVerified, next.IsAdmin = true, true, true
	case StatusDisabled:
		next.Active = false
	default:
		return nil, fmt.Errorf("unsupported target %s: %w", target, ErrInvalidTransition)
	}
	next.UpdatedAt = sm.now().UTC()

	updated, err := sm.principals.SetFlags(ctx, next, principal.Flags())
	if err != nil {
		return nil, err
	}

	sm.Record(ctx, actor, updated, from, StatusOf(updated), options.metadata)
	return updated, nil
}

// Record publishes a status change that was applied outside Transition, such
// as the compare-and-set used by verification.
func (sm *AccountStateMachine) Record(ctx context.Context, actor ActorRef, principal *Principal, from, to PrincipalStatus, meta TransitionMetadata) {
	metadata := map[string]any{}
	maps.Copy(metadata, meta.Metadata)
	if meta.Reason != "" {
		metadata["reason"] = meta.Reason
	}

	id := ""
	if principal != nil {
		id = principal.ID
	}

	err := normalizeActivitySink(sm.activitySink).Record(ctx, ActivityEvent{
		EventType:   ActivityEventStatusChanged,
		Actor:       actor,
		PrincipalID: id,
		FromStatus:  from,
		ToStatus:    to,
		Metadata:    metadata,
		OccurredAt:  sm.now().UTC(),
	})
	if err != nil {
		sm.logger.Warn("state machine activity sink error", "principal_id", id, "error", err)
	}
}
