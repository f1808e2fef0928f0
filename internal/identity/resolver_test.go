package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/skillsphere/messaging-service/internal/platform"
)

type fakeDirectory struct {
	mu    sync.Mutex
	users map[string]*platform.User
	err   error
	calls int
}

func (f *fakeDirectory) GetByExternalSubject(ctx context.Context, subject string) (*platform.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	user, ok := f.users[subject]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return user, nil
}

func (f *fakeDirectory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestResolveNumericSubjectFastPath(t *testing.T) {
	dir := &fakeDirectory{}
	resolver := NewResolver(dir, nil)

	id, err := resolver.Resolve(context.Background(), "42")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected 42, got %d", id)
	}
	if dir.callCount() != 0 {
		t.Fatal("expected no upstream call for numeric subject")
	}
}

func TestResolveMemoizesUpstreamLookups(t *testing.T) {
	dir := &fakeDirectory{users: map[string]*platform.User{
		"auth0|abc": {ID: 7, FirstName: "Alice"},
	}}
	resolver := NewResolver(dir, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := resolver.Resolve(ctx, "auth0|abc")
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if id != 7 {
			t.Fatalf("expected 7, got %d", id)
		}
	}

	if dir.callCount() != 1 {
		t.Fatalf("expected a single upstream call, got %d", dir.callCount())
	}
}

func TestResolveUnknownSubject(t *testing.T) {
	dir := &fakeDirectory{users: map[string]*platform.User{}}
	resolver := NewResolver(dir, nil)

	if _, err := resolver.Resolve(context.Background(), "auth0|nobody"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestResolveUpstreamFailure(t *testing.T) {
	dir := &fakeDirectory{err: platform.ErrUnavailable}
	resolver := NewResolver(dir, nil)

	if _, err := resolver.Resolve(context.Background(), "auth0|abc"); !errors.Is(err, ErrIdentityUnavailable) {
		t.Fatalf("expected ErrIdentityUnavailable, got %v", err)
	}

	// Failures are never cached
	dir.mu.Lock()
	dir.err = nil
	dir.users = map[string]*platform.User{"auth0|abc": {ID: 9}}
	dir.mu.Unlock()

	id, err := resolver.Resolve(context.Background(), "auth0|abc")
	if err != nil {
		t.Fatalf("resolve after recovery: %v", err)
	}
	if id != 9 {
		t.Fatalf("expected 9, got %d", id)
	}
}
