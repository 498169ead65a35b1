package access_test

import (
	"context"
	"time"

	access "github.com/goliatone/go-access"
	"github.com/stretchr/testify/mock"
)

// MockPrincipalStore implements access.PrincipalStore
type MockPrincipalStore struct {
	mock.Mock
}

func (m *MockPrincipalStore) Insert(ctx context.Context, p *access.Principal) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockPrincipalStore) GetByID(ctx context.Context, id string) (*access.Principal, error) {
	args := m.Called(ctx, id)
	return principalArg(args, 0), args.Error(1)
}

func (m *MockPrincipalStore) GetByEmail(ctx context.Context, email string) (*access.Principal, error) {
	args := m.Called(ctx, email)
	return principalArg(args, 0), args.Error(1)
}

func (m *MockPrincipalStore) GetByUsername(ctx context.Context, username string) (*access.Principal, error) {
	args := m.Called(ctx, username)
	return principalArg(args, 0), args.Error(1)
}

func (m *MockPrincipalStore) Update(ctx context.Context, p *access.Principal, columns ...string) (*access.Principal, error) {
	args := m.Called(ctx, p, columns)
	return principalArg(args, 0), args.Error(1)
}

func (m *MockPrincipalStore) SetFlags(ctx context.Context, next *access.Principal, expect access.PrincipalFlags) (*access.Principal, error) {
	args := m.Called(ctx, next, expect)
	return principalArg(args, 0), args.Error(1)
}

func (m *MockPrincipalStore) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockPrincipalStore) Delete(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockPrincipalStore) FindStale(ctx context.Context, filter access.StaleFilter, after string, limit int) ([]*access.Principal, error) {
	args := m.Called(ctx, filter, after, limit)
	if v := args.Get(0); v != nil {
		return v.([]*access.Principal), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPrincipalStore) DeleteStale(ctx context.Context, id string, filter access.StaleFilter) (bool, error) {
	args := m.Called(ctx, id, filter)
	return args.Bool(0), args.Error(1)
}

func (m *MockPrincipalStore) Search(ctx context.Context, filter access.PrincipalFilter, page access.Page) ([]*access.Principal, int, error) {
	args := m.Called(ctx, filter, page)
	if v := args.Get(0); v != nil {
		return v.([]*access.Principal), args.Int(1), args.Error(2)
	}
	return nil, args.Int(1), args.Error(2)
}

func (m *MockPrincipalStore) Count(ctx context.Context, filter access.PrincipalFilter) (int, error) {
	args := m.Called(ctx, filter)
	return args.Int(0), args.Error(1)
}

func principalArg(args mock.Arguments, i int) *access.Principal {
	if v := args.Get(i); v != nil {
		return v.(*access.Principal)
	}
	return nil
}

// MockEvictor implements access.Evictor
type MockEvictor struct {
	mock.Mock
}

func (m *MockEvictor) EvictStale(ctx context.Context, olderThan time.Duration, excludeAdmins bool) (access.EvictionReport, error) {
	args := m.Called(ctx, olderThan, excludeAdmins)
	return args.Get(0).(access.EvictionReport), args.Error(1)
}

// MockSessionPurger implements access.SessionPurger
type MockSessionPurger struct {
	mock.Mock
}

func (m *MockSessionPurger) PurgeExpired(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
