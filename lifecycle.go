package access

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	defaultEvictionBatch = 100
	evictionSampleSize   = 5
	mailTimeout          = 30 * time.Second
)

// EvictionReport summarizes an eviction sweep.
type EvictionReport struct {
	Cutoff  time.Time
	Evicted int
	Sample  []string
}

// SearchResult is a page of principals.
type SearchResult struct {
	Items    []*Principal `json:"items"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

// Stats is a headcount of principals.
type Stats struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Unverified int `json:"unverified"`
	Admins     int `json:"admins"`
	Recent     int `json:"recent"`
}

// AccountManager owns registration, verification, admin changes and the
// eviction sweep.
type AccountManager struct {
	principals      PrincipalStore
	sessions        SessionStore
	tx              Transactor
	hasher          Hasher
	codec           *TokenCodec
	mailer          Mailer
	machine         *AccountStateMachine
	rules           CredentialRules
	maxAge          time.Duration
	verificationURL string
	batchSize       int
	now             func() time.Time
	activity        ActivitySink
	logger          Logger
	mail            sync.WaitGroup
}

// AccountManagerOption customizes manager construction.
type AccountManagerOption func(*AccountManager)

// WithAccountClock injects a custom clock (useful for tests).
func WithAccountClock(clock func() time.Time) AccountManagerOption {
	return func(m *AccountManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithAccountSessions lets the manager drop sessions of deleted, evicted
// and disabled principals.
func WithAccountSessions(sessions SessionStore) AccountManagerOption {
	return func(m *AccountManager) {
		m.sessions = sessions
	}
}

// WithAccountTransactor makes DeleteAccount remove the principal and their
// sessions in one transaction.
func WithAccountTransactor(tx Transactor) AccountManagerOption {
	return func(m *AccountManager) {
		m.tx = tx
	}
}

// WithAccountHasher overrides the password hasher.
func WithAccountHasher(h Hasher) AccountManagerOption {
	return func(m *AccountManager) {
		if h != nil {
			m.hasher = h
		}
	}
}

// WithAccountTokenCodec overrides the token codec.
func WithAccountTokenCodec(codec *TokenCodec) AccountManagerOption {
	return func(m *AccountManager) {
		if codec != nil {
			m.codec = codec
		}
	}
}

// WithAccountMailer sets the verification mailer.
func WithAccountMailer(mailer Mailer) AccountManagerOption {
	return func(m *AccountManager) {
		if mailer != nil {
			m.mailer = mailer
		}
	}
}

// WithAccountActivitySink sets the sink used to emit lifecycle events.
func WithAccountActivitySink(sink ActivitySink) AccountManagerOption {
	return func(m *AccountManager) {
		m.activity = normalizeActivitySink(sink)
	}
}

// WithAccountLogger overrides the manager logger.
func WithAccountLogger(logger Logger) AccountManagerOption {
	return func(m *AccountManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithEvictionBatchSize sets how many candidates a sweep loads per batch.
func WithEvictionBatchSize(n int) AccountManagerOption {
	return func(m *AccountManager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// NewAccountManager wires a manager from cfg and the principal store.
func NewAccountManager(cfg Config, principals PrincipalStore, opts ...AccountManagerOption) *AccountManager {
	m := &AccountManager{
		principals:      principals,
		mailer:          noopMailer{},
		rules:           cfg.GetCredentialRules(),
		maxAge:          cfg.GetVerificationMaxAge(),
		verificationURL: cfg.GetVerificationURL(),
		batchSize:       defaultEvictionBatch,
		now:             time.Now,
		activity:        noopActivitySink{},
		logger:          defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	if m.hasher == nil {
		m.hasher = NewBcryptHasher(0)
	}
	if m.codec == nil {
		m.codec = NewTokenCodec(cfg.GetSigningKey(),
			WithTokenCodecClock(m.now),
			WithTokenCodecLogger(m.logger),
		)
	}
	m.machine = NewAccountStateMachine(principals,
		WithStateMachineClock(m.now),
		WithStateMachineActivitySink(m.activity),
		WithStateMachineLogger(m.logger),
	)
	return m
}

// Register validates input, stores a new unverified principal and mails a
// verification link in the background.
func (m *AccountManager) Register(ctx context.Context, in RegisterInput) (*Principal, error) {
	in = in.Normalize()
	if err := m.rules.ValidateRegistration(in); err != nil {
		return nil, err
	}

	p, err := m.insert(ctx, in, false, false)
	if err != nil {
		return nil, err
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType:   ActivityEventRegistered,
		Actor:       ActorRef{ID: p.ID, Type: "principal"},
		PrincipalID: p.ID,
		ToStatus:    StatusRegistered,
	})

	m.sendVerification(ctx, p)
	return p, nil
}

// CreatePrincipal stores an operator created principal that is already
// verified and active.
func (m *AccountManager) CreatePrincipal(ctx context.Context, actor ActorRef, in RegisterInput, admin bool) (*Principal, error) {
	in = in.Normalize()
	if err := m.rules.ValidateRegistration(in); err != nil {
		return nil, err
	}

	p, err := m.insert(ctx, in, true, admin)
	if err != nil {
		return nil, err
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType:   ActivityEventRegistered,
		Actor:       actor,
		PrincipalID: p.ID,
		ToStatus:    StatusOf(p),
		Metadata:    map[string]any{"created_by_operator": true},
	})
	return p, nil
}

func (m *AccountManager) insert(ctx context.Context, in RegisterInput, verified, admin bool) (*Principal, error) {
	if err := m.ensureUnique(ctx, in.Username, in.Email); err != nil {
		return nil, err
	}

	hash, err := m.hasher.Hash(in.Password)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	now := m.now().UTC()
	p := &Principal{
		ID:            uuid.NewString(),
		Email:         in.Email,
		Username:      in.Username,
		PasswordHash:  hash,
		Active:        verified,
		EmailVerified: verified,
		IsAdmin:       admin,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := m.principals.Insert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *AccountManager) ensureUnique(ctx context.Context, username, email string) error {
	if _, err := m.principals.GetByUsername(ctx, username); err == nil {
		return ErrDuplicateUsername
	} else if !errors.Is(err, ErrPrincipalNotFound) {
		return err
	}

	if _, err := m.principals.GetByEmail(ctx, email); err == nil {
		return ErrDuplicateEmail
	} else if !errors.Is(err, ErrPrincipalNotFound) {
		return err
	}
	return nil
}

// IssueVerification returns a fresh email verification token. Earlier
// tokens for the same principal stay valid until they expire.
func (m *AccountManager) IssueVerification(ctx context.Context, p *Principal) (string, error) {
	if p == nil {
		return "", ErrPrincipalNotFound
	}
	token, err := m.codec.Issue(p.Email, PurposeEmailVerification)
	if err != nil {
		return "", err
	}
	m.recordActivity(ctx, ActivityEvent{
		EventType:   ActivityEventVerificationIssued,
		Actor:       ActorRef{ID: p.ID, Type: "principal"},
		PrincipalID: p.ID,
	})
	return token, nil
}

// ResendVerification mails a new token to an unverified principal.
func (m *AccountManager) ResendVerification(ctx context.Context, email string) (string, error) {
	p, err := m.principals.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return "", err
	}
	if p.EmailVerified {
		return "", ErrAlreadyVerified
	}
	return m.sendVerification(ctx, p), nil
}

// VerificationURL builds the link mailed to principals.
func (m *AccountManager) VerificationURL(token string) string {
	base := m.verificationURL
	if strings.Contains(base, "{token}") {
		return strings.ReplaceAll(base, "{token}", url.PathEscape(token))
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(token)
}

func (m *AccountManager) sendVerification(ctx context.Context, p *Principal) string {
	token, err := m.IssueVerification(ctx, p)
	if err != nil {
		m.logger.Error("verification token issue failed", "principal_id", p.ID, "error", err)
		return ""
	}

	link := m.VerificationURL(token)
	recipient := p.Clone()
	mailCtx := context.WithoutCancel(ctx)

	m.mail.Add(1)
	go func() {
		defer m.mail.Done()
		ctx, cancel := context.WithTimeout(mailCtx, mailTimeout)
		defer cancel()
		if err := m.mailer.SendVerificationEmail(ctx, recipient, link); err != nil {
			m.logger.Error("verification email failed", "principal_id", recipient.ID, "email", recipient.Email, "error", err)
			return
		}
		m.logger.Debug("verification email sent", "principal_id", recipient.ID)
	}()

	return token
}

// WaitForMail blocks until background verification mails have been handed
// to the mailer.
func (m *AccountManager) WaitForMail() {
	m.mail.Wait()
}

// ConsumeVerification marks the token subject as verified and active.
// Verifying an already verified principal succeeds without side effects.
func (m *AccountManager) ConsumeVerification(ctx context.Context, token string) (*Principal, error) {
	email, err := m.codec.Validate(token, PurposeEmailVerification, m.maxAge)
	if err != nil {
		return nil, err
	}

	p, err := m.principals.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil, ErrUnknownSubject
		}
		return nil, err
	}

	if p.EmailVerified {
		return p, nil
	}

	return m.markVerified(ctx, ActorRef{ID: p.ID, Type: "principal"}, p, "email verification")
}

func (m *AccountManager) markVerified(ctx context.Context, actor ActorRef, p *Principal, reason string) (*Principal, error) {
	from := StatusOf(p)
	changed, err := m.principals.MarkVerified(ctx, p.ID, m.now().UTC())
	if err != nil {
		return nil, err
	}

	updated, err := m.principals.GetByID(ctx, p.ID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil, ErrUnknownSubject
		}
		return nil, err
	}

	if changed {
		m.machine.Record(ctx, actor, updated, from, StatusOf(updated), TransitionMetadata{Reason: reason})
	}
	return updated, nil
}

// EvictStale deletes unverified principals created before now-olderThan.
// Each delete re-applies the predicate, so a principal that verifies during
// the sweep survives. Cancellation is honoured between batches.
func (m *AccountManager) EvictStale(ctx context.Context, olderThan time.Duration, excludeAdmins bool) (EvictionReport, error) {
	filter := StaleFilter{
		Cutoff:        m.now().UTC().Add(-olderThan),
		ExcludeAdmins: excludeAdmins,
	}
	report := EvictionReport{Cutoff: filter.Cutoff}

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		batch, err := m.principals.FindStale(ctx, filter, after, m.batchSize)
		if err != nil {
			return report, err
		}

		for _, p := range batch {
			deleted, err := m.principals.DeleteStale(ctx, p.ID, filter)
			if err != nil {
				return report, err
			}
			if !deleted {
				continue
			}
			report.Evicted++
			if len(report.Sample) < evictionSampleSize {
				report.Sample = append(report.Sample, p.Email)
			}
			m.dropSessions(ctx, p.ID)
			m.recordActivity(ctx, ActivityEvent{
				EventType:   ActivityEventEvicted,
				Actor:       SystemActor,
				PrincipalID: p.ID,
				FromStatus:  StatusRegistered,
				ToStatus:    StatusEvicted,
				Metadata:    map[string]any{"email": p.Email, "created_at": p.CreatedAt},
			})
		}

		if len(batch) < m.batchSize {
			break
		}
		after = batch[len(batch)-1].ID
	}

	return report, nil
}

// Get returns the principal with id.
func (m *AccountManager) Get(ctx context.Context, id string) (*Principal, error) {
	return m.principals.GetByID(ctx, id)
}

// Promote grants admin, forcing the principal verified and active.
func (m *AccountManager) Promote(ctx context.Context, actor ActorRef, id string) (*Principal, error) {
	p, err := m.principals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.machine.Transition(ctx, actor, p, StatusPromoted, WithTransitionReason("promote"))
}

// Demote revokes admin. A disabled admin stays disabled.
func (m *AccountManager) Demote(ctx context.Context, actor ActorRef, id string) (*Principal, error) {
	p, err := m.principals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin {
		return p, nil
	}
	if StatusOf(p) == StatusPromoted {
		return m.machine.Transition(ctx, actor, p, StatusVerified, WithTransitionReason("demote"))
	}

	from := StatusOf(p)
	next := p.Clone()
	next.IsAdmin = false
	next.UpdatedAt = m.now().UTC()
	updated, err := m.principals.SetFlags(ctx, next, p.Flags())
	if err != nil {
		return nil, err
	}
	m.machine.Record(ctx, actor, updated, from, StatusOf(updated), TransitionMetadata{
		Reason:   "demote",
		Metadata: map[string]any{"is_admin": false},
	})
	return updated, nil
}

// Disable deactivates the principal and drops their sessions. Principals
// that are not active are returned unchanged.
func (m *AccountManager) Disable(ctx context.Context, actor ActorRef, id string) (*Principal, error) {
	p, err := m.principals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return p, nil
	}

	var updated *Principal
	if p.EmailVerified {
		updated, err = m.machine.Transition(ctx, actor, p, StatusDisabled, WithTransitionReason("disable"))
	} else {
		next := p.Clone()
		next.Active = false
		next.UpdatedAt = m.now().UTC()
		updated, err = m.principals.SetFlags(ctx, next, p.Flags())
	}
	if err != nil {
		return nil, err
	}

	m.dropSessions(ctx, p.ID)
	return updated, nil
}

// Enable reactivates a disabled principal. Unverified principals must verify first.
func (m *AccountManager) Enable(ctx context.Context, actor ActorRef, id string) (*Principal, error) {
	p, err := m.principals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Active && p.EmailVerified {
		return p, nil
	}
	if !p.EmailVerified {
		return nil, ErrNotVerified
	}

	target := StatusVerified
	if p.IsAdmin {
		target = StatusPromoted
	}
	return m.machine.Transition(ctx, actor, p, target, WithTransitionReason("enable"))
}

// ForceVerify marks the principal verified and active without a token.
func (m *AccountManager) ForceVerify(ctx context.Context, actor ActorRef, id string) (*Principal, error) {
	p, err := m.principals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.EmailVerified {
		return m.markVerified(ctx, actor, p, "force verify")
	}
	if !p.Active {
		return m.Enable(ctx, actor, id)
	}
	return p, nil
}

// SetTags replaces the role and permission sets of the principal.
func (m *AccountManager) SetTags(ctx context.Context, actor ActorRef, id string, roles, permissions []string) (*Principal, error) {
	p, err := m.principals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next := p.Clone()
	next.Roles = normalizeTags(roles)
	next.Permissions = normalizeTags(permissions)
	next.UpdatedAt = m.now().UTC()
	updated, err := m.principals.Update(ctx, next, "roles", "permissions", "updated_at")
	if err != nil {
		return nil, err
	}
	m.machine.Record(ctx, actor, updated, StatusOf(p), StatusOf(updated), TransitionMetadata{
		Reason:   "tags",
		Metadata: map[string]any{"roles": updated.Roles, "permissions": updated.Permissions},
	})
	return updated, nil
}

// ChangePassword replaces the password after checking the current one.
func (m *AccountManager) ChangePassword(ctx context.Context, id, current, next string) error {
	p, err := m.principals.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !m.hasher.Verify(current, p.PasswordHash) {
		return ErrInvalidCredentials
	}
	if err := m.rules.ValidatePassword(next); err != nil {
		return err
	}

	hash, err := m.hasher.Hash(next)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	upd := p.Clone()
	upd.PasswordHash = hash
	upd.UpdatedAt = m.now().UTC()
	if _, err := m.principals.Update(ctx, upd, "password_hash", "updated_at"); err != nil {
		return err
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType:   ActivityEventPasswordChanged,
		Actor:       ActorRef{ID: p.ID, Type: "principal"},
		PrincipalID: p.ID,
	})
	return nil
}

// DeleteAccount hard deletes the principal and their sessions. With a
// Transactor both deletes commit or roll back together.
func (m *AccountManager) DeleteAccount(ctx context.Context, actor ActorRef, id string) error {
	p, err := m.principals.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if m.tx != nil {
		err = m.tx.WithinTx(ctx, func(ctx context.Context, principals PrincipalStore, sessions SessionStore) error {
			if err := deletePrincipal(ctx, principals, id); err != nil {
				return err
			}
			_, err := sessions.DeleteByPrincipal(ctx, id)
			return err
		})
		if err != nil {
			return err
		}
	} else {
		if err := deletePrincipal(ctx, m.principals, id); err != nil {
			return err
		}
		m.dropSessions(ctx, id)
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType:   ActivityEventDeleted,
		Actor:       actor,
		PrincipalID: id,
		FromStatus:  StatusOf(p),
		ToStatus:    StatusEvicted,
		Metadata:    map[string]any{"email": p.Email},
	})
	return nil
}

// SearchPrincipals returns a page of principals matching filter, newest first.
func (m *AccountManager) SearchPrincipals(ctx context.Context, filter PrincipalFilter, page Page) (*SearchResult, error) {
	page = page.Normalize()
	filter.Query = strings.TrimSpace(filter.Query)

	items, total, err := m.principals.Search(ctx, filter, page)
	if err != nil {
		return nil, err
	}
	return &SearchResult{
		Items:    items,
		Total:    total,
		Page:     page.Number,
		PageSize: page.Size,
	}, nil
}

// Stats counts principals by status. Recent covers the last seven days.
func (m *AccountManager) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	var err error
	since := m.now().UTC().Add(-7 * 24 * time.Hour)

	counts := []struct {
		dst    *int
		filter PrincipalFilter
	}{
		{&s.Total, PrincipalFilter{}},
		{&s.Active, PrincipalFilter{Verified: Bool(true), Active: Bool(true)}},
		{&s.Unverified, PrincipalFilter{Verified: Bool(false)}},
		{&s.Admins, PrincipalFilter{Admin: Bool(true)}},
		{&s.Recent, PrincipalFilter{CreatedAfter: &since}},
	}
	for _, c := range counts {
		if *c.dst, err = m.principals.Count(ctx, c.filter); err != nil {
			return Stats{}, err
		}
	}
	return s, nil
}

func deletePrincipal(ctx context.Context, principals PrincipalStore, id string) error {
	deleted, err := principals.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrPrincipalNotFound
	}
	return nil
}

func (m *AccountManager) dropSessions(ctx context.Context, principalID string) {
	if m.sessions == nil {
		return
	}
	if _, err := m.sessions.DeleteByPrincipal(ctx, principalID); err != nil {
		m.logger.Warn("failed to drop principal sessions", "principal_id", principalID, "error", err)
	}
}

func (m *AccountManager) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now().UTC()
	}
	if err := normalizeActivitySink(m.activity).Record(ctx, event); err != nil {
		m.logger.Warn("account activity sink error", "event", event.EventType, "error", err)
	}
}
