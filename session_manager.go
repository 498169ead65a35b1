package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionManager authenticates principals and manages sliding sessions.
type SessionManager struct {
	principals PrincipalStore
	sessions   SessionStore
	hasher     Hasher
	idle       time.Duration
	dummyHash  string
	now        func() time.Time
	activity   ActivitySink
	logger     Logger
}

// SessionManagerOption customizes manager construction.
type SessionManagerOption func(*SessionManager)

// WithSessionClock injects a custom clock (useful for tests).
func WithSessionClock(clock func() time.Time) SessionManagerOption {
	return func(s *SessionManager) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSessionHasher overrides the password hasher.
func WithSessionHasher(h Hasher) SessionManagerOption {
	return func(s *SessionManager) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithSessionActivitySink sets the sink used to emit login events.
func WithSessionActivitySink(sink ActivitySink) SessionManagerOption {
	return func(s *SessionManager) {
		s.activity = normalizeActivitySink(sink)
	}
}

// WithSessionLogger overrides the manager logger.
func WithSessionLogger(logger Logger) SessionManagerOption {
	return func(s *SessionManager) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSessionManager wires a session manager from cfg and stores.
func NewSessionManager(cfg Config, principals PrincipalStore, sessions SessionStore, opts ...SessionManagerOption) *SessionManager {
	s := &SessionManager{
		principals: principals,
		sessions:   sessions,
		idle:       cfg.GetSessionIdleTimeout(),
		now:        time.Now,
		activity:   noopActivitySink{},
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.hasher == nil {
		s.hasher = NewBcryptHasher(0)
	}
	// misses still pay for one hash comparison
	s.dummyHash, _ = s.hasher.Hash(uuid.NewString())
	return s
}

// IdleTimeout is the sliding idle window applied to every session.
func (s *SessionManager) IdleTimeout() time.Duration {
	return s.idle
}

// Authenticate checks credentials. The identifier is tried as a username
// first and as an email second. Every failure is ErrInvalidCredentials.
func (s *SessionManager) Authenticate(ctx context.Context, identifier, password string) (*Principal, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	p, err := s.lookup(ctx, identifier)
	if err != nil {
		if !errors.Is(err, ErrPrincipalNotFound) {
			return nil, err
		}
		s.hasher.Verify(password, s.dummyHash)
		s.recordFailure(ctx, identifier, "unknown identifier")
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, p.PasswordHash) {
		s.recordFailure(ctx, identifier, "password mismatch")
		return nil, ErrInvalidCredentials
	}

	return p, nil
}

func (s *SessionManager) lookup(ctx context.Context, identifier string) (*Principal, error) {
	p, err := s.principals.GetByUsername(ctx, identifier)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrPrincipalNotFound) {
		return nil, err
	}
	return s.principals.GetByEmail(ctx, NormalizeEmail(identifier))
}

// Login opens a session for an authenticated principal. Unverified
// principals get ErrNotVerified, inactive ones ErrDisabled. The idle window
// does not depend on remember.
func (s *SessionManager) Login(ctx context.Context, p *Principal, remember bool) (*Session, error) {
	if p == nil {
		return nil, ErrInvalidCredentials
	}
	if !p.EmailVerified {
		s.recordFailure(ctx, p.Username, "not verified")
		return nil, ErrNotVerified
	}
	if !p.Active {
		s.recordFailure(ctx, p.Username, "disabled")
		return nil, ErrDisabled
	}

	now := s.now().UTC()
	session := &Session{
		ID:          uuid.NewString(),
		PrincipalID: p.ID,
		Remember:    remember,
		CreatedAt:   now,
		LastSeenAt:  now,
		ExpiresAt:   now.Add(s.idle),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	s.recordActivity(ctx, ActivityEvent{
		EventType:   ActivityEventLoginSuccess,
		Actor:       ActorRef{ID: p.ID, Type: "principal"},
		PrincipalID: p.ID,
		Metadata:    map[string]any{"remember": remember, "session_id": session.ID},
	})
	return session, nil
}

// SignIn runs Authenticate and Login.
func (s *SessionManager) SignIn(ctx context.Context, identifier, password string, remember bool) (*Session, *Principal, error) {
	p, err := s.Authenticate(ctx, identifier, password)
	if err != nil {
		return nil, nil, err
	}
	session, err := s.Login(ctx, p, remember)
	if err != nil {
		return nil, nil, err
	}
	return session, p, nil
}

// Touch slides the idle deadline of a live session. Expired sessions are
// removed and reported as ErrSessionExpired.
func (s *SessionManager) Touch(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	now := s.now().UTC()
	extended, err := s.sessions.Extend(ctx, sessionID, now, now.Add(s.idle))
	if err != nil {
		return nil, err
	}

	if !extended {
		if _, err := s.sessions.Get(ctx, sessionID); err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				return nil, ErrSessionNotFound
			}
			return nil, err
		}
		if err := s.sessions.Delete(ctx, sessionID); err != nil {
			s.logger.Warn("failed to remove expired session", "session_id", sessionID, "error", err)
		}
		return nil, ErrSessionExpired
	}

	return s.sessions.Get(ctx, sessionID)
}

// Resolve touches the session and loads its principal. Sessions whose
// principal was removed or is no longer usable are destroyed.
func (s *SessionManager) Resolve(ctx context.Context, sessionID string) (*Session, *Principal, error) {
	session, err := s.Touch(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	p, err := s.principals.GetByID(ctx, session.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			s.destroy(ctx, sessionID)
			return nil, nil, ErrSessionExpired
		}
		return nil, nil, err
	}

	switch {
	case !p.EmailVerified:
		s.destroy(ctx, sessionID)
		return nil, nil, ErrNotVerified
	case !p.Active:
		s.destroy(ctx, sessionID)
		return nil, nil, ErrDisabled
	}

	return session, p, nil
}

// Logout destroys the session. Unknown or expired sessions are ignored.
func (s *SessionManager) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.recordActivity(ctx, ActivityEvent{
		EventType:   ActivityEventLogout,
		Actor:       ActorRef{ID: session.PrincipalID, Type: "principal"},
		PrincipalID: session.PrincipalID,
	})
	return nil
}

// PurgeExpired removes sessions whose idle deadline passed.
func (s *SessionManager) PurgeExpired(ctx context.Context) (int, error) {
	return s.sessions.DeleteExpired(ctx, s.now().UTC())
}

func (s *SessionManager) destroy(ctx context.Context, sessionID string) {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("failed to destroy session", "session_id", sessionID, "error", err)
	}
}

func (s *SessionManager) recordFailure(ctx context.Context, identifier, reason string) {
	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Actor:     ActorRef{ID: identifier, Type: "anonymous"},
		Metadata:  map[string]any{"reason": reason},
	})
}

func (s *SessionManager) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if err := normalizeActivitySink(s.activity).Record(ctx, event); err != nil {
		s.logger.Warn("session activity sink error", "event", event.EventType, "error", err)
	}
}
