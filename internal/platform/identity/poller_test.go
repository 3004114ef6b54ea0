package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/session"
)

type whoamiFunc func(session.Credential) (*Result, error)

// stubService implements Service with only WhoAmI wired.
type stubService struct {
	Service
	mu     sync.Mutex
	whoami whoamiFunc
	calls  int
}

func (s *stubService) WhoAmI(_ context.Context, cred session.Credential) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.whoami(cred)
}

func authenticated(id session.Identity, cred session.Credential) func() session.Session {
	return func() session.Session {
		return session.Session{Identity: &id, Credential: &cred, Status: session.StatusAuthenticated}
	}
}

func testPollIdentity() session.Identity {
	return session.Identity{ID: uuid.New(), Email: "jane@example.com", Roles: []session.Role{session.RolePatient}}
}

func newFastPoller(svc Service) *Poller {
	p := NewPoller(svc, time.Second, zerolog.Nop())
	p.interval = 10 * time.Millisecond
	return p
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPoller_SignedOutElsewhere(t *testing.T) {
	svc := &stubService{whoami: func(session.Credential) (*Result, error) { return nil, ErrUnauthorized }}
	p := newFastPoller(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cred := session.Credential{Token: "t", ExpiresAt: time.Now().Add(time.Hour)}
	ev := nextEvent(t, p.Run(ctx, authenticated(testPollIdentity(), cred)))
	if ev.Kind != EventSignedOut {
		t.Fatalf("expected signed_out, got %s", ev.Kind)
	}
}

func TestPoller_Expired(t *testing.T) {
	svc := &stubService{whoami: func(session.Credential) (*Result, error) { return nil, ErrUnauthorized }}
	p := newFastPoller(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cred := session.Credential{Token: "t", ExpiresAt: time.Now().Add(-time.Minute)}
	ev := nextEvent(t, p.Run(ctx, authenticated(testPollIdentity(), cred)))
	if ev.Kind != EventExpired {
		t.Fatalf("expected expired, got %s", ev.Kind)
	}
}

func TestPoller_RefreshedOnlyOnChange(t *testing.T) {
	id := testPollIdentity()
	cred := session.Credential{Token: "t"}

	var mu sync.Mutex
	promoted := false
	svc := &stubService{whoami: func(c session.Credential) (*Result, error) {
		mu.Lock()
		defer mu.Unlock()
		out := id
		if promoted {
			out.Roles = []session.Role{session.RolePatient, session.RoleAdmin}
		}
		return &Result{Identity: out, Credential: &c}, nil
	}}
	p := newFastPoller(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := p.Run(ctx, authenticated(id, cred))

	// Unchanged polls produce nothing.
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}

	mu.Lock()
	promoted = true
	mu.Unlock()

	ev := nextEvent(t, events)
	if ev.Kind != EventRefreshed || ev.Result == nil {
		t.Fatalf("expected refreshed event, got %+v", ev)
	}
	if !ev.Result.Identity.HasAnyRole(session.RoleAdmin) {
		t.Errorf("expected new role in refreshed identity, got %v", ev.Result.Identity.Roles)
	}
}

func TestPoller_TransientErrorsIgnored(t *testing.T) {
	svc := &stubService{whoami: func(session.Credential) (*Result, error) { return nil, ErrUnavailable }}
	p := newFastPoller(svc)

	ctx, cancel := context.WithCancel(context.Background())
	events := p.Run(ctx, authenticated(testPollIdentity(), session.Credential{Token: "t"}))

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(60 * time.Millisecond):
	}
	cancel()

	// Channel closes once ctx is done.
	for range events {
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.calls == 0 {
		t.Error("expected the service to be polled")
	}
}

func TestPoller_SkipsAnonymous(t *testing.T) {
	svc := &stubService{whoami: func(session.Credential) (*Result, error) {
		t.Error("WhoAmI must not be called without a credential")
		return nil, ErrUnauthorized
	}}
	p := newFastPoller(svc)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for range p.Run(ctx, func() session.Session { return session.Session{Status: session.StatusAnonymous} }) {
		t.Error("unexpected event")
	}
}

func TestPoller_WaitShortensForBearer(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p := NewPoller(&stubService{}, time.Minute, zerolog.Nop())
	p.now = func() time.Time { return now }

	bearer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(30 * time.Second)),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}

	sess := session.Session{Credential: &session.Credential{Token: "t", Bearer: bearer}}
	if got := p.wait(sess); got != 20*time.Second {
		t.Errorf("expected 20s, got %v", got)
	}

	sess.Credential.Bearer = "opaque"
	if got := p.wait(sess); got != time.Minute {
		t.Errorf("expected full interval for opaque bearer, got %v", got)
	}

	past, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
	}).SignedString([]byte("k"))
	sess.Credential.Bearer = past
	if got := p.wait(sess); got != minPollWait {
		t.Errorf("expected floor of %v, got %v", minPollWait, got)
	}
}

func TestTokenExpiry_NotJWT(t *testing.T) {
	if _, ok := TokenExpiry("ory_st_abcdef"); ok {
		t.Error("opaque token should have no expiry")
	}
	if _, ok := TokenExpiry(""); ok {
		t.Error("empty token should have no expiry")
	}
}
