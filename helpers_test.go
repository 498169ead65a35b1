package access_test

import (
	"context"
	"sync"
	"time"

	access "github.com/goliatone/go-access"
	"golang.org/x/crypto/bcrypt"
)

const testSigningKey = "test-signing-key"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []access.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event access.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Types() []access.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]access.ActivityEventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType
	}
	return out
}

func (s *recordingSink) Last(eventType access.ActivityEventType) (access.ActivityEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].EventType == eventType {
			return s.events[i], true
		}
	}
	return access.ActivityEvent{}, false
}

func testConfig() access.StaticConfig {
	return access.StaticConfig{
		SigningKey:      testSigningKey,
		VerificationURL: "https://example.com/auth/verify",
	}
}

func fastHasher() access.Hasher {
	return access.NewBcryptHasher(bcrypt.MinCost)
}

type capturedMail struct {
	principal *access.Principal
	link      string
}

type mailbox struct {
	mu    sync.Mutex
	sent  []capturedMail
	fails error
}

func (m *mailbox) SendVerificationEmail(_ context.Context, p *access.Principal, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails != nil {
		return m.fails
	}
	m.sent = append(m.sent, capturedMail{principal: p, link: link})
	return nil
}

func (m *mailbox) Sent() []capturedMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]capturedMail(nil), m.sent...)
}
