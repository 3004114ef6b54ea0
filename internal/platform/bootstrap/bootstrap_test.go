package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/credstore"
	"github.com/hms/hms/internal/platform/identity"
	"github.com/hms/hms/internal/platform/session"
)

// fakeService answers WhoAmI from a token table. Unknown tokens are
// unauthorized.
type fakeService struct {
	identity.Service

	mu      sync.Mutex
	valid   map[string]session.Identity
	failure error
	calls   int
}

func newFakeService() *fakeService {
	return &fakeService{valid: map[string]session.Identity{}}
}

func (f *fakeService) accept(token string, roles ...session.Role) session.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := session.Identity{ID: uuid.New(), Email: token + "@example.com", Roles: roles}
	f.valid[token] = id
	return id
}

func (f *fakeService) revoke(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.valid, token)
}

func (f *fakeService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeService) WhoAmI(_ context.Context, cred session.Credential) (*identity.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failure != nil {
		return nil, f.failure
	}
	id, ok := f.valid[cred.Token]
	if !ok {
		return nil, identity.ErrUnauthorized
	}
	c := cred
	return &identity.Result{Identity: id, Credential: &c}, nil
}

// memCreds is an in-memory credstore.Store whose outside changes are pushed
// by the test.
type memCreds struct {
	mu      sync.Mutex
	cred    *session.Credential
	loadErr error
	deletes int
	changes chan credstore.Change
}

func newMemCreds(cred *session.Credential) *memCreds {
	return &memCreds{cred: cred, changes: make(chan credstore.Change)}
}

func (m *memCreds) Load(context.Context) (*session.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.cred == nil {
		return nil, nil
	}
	c := *m.cred
	return &c, nil
}

func (m *memCreds) Save(_ context.Context, cred session.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = &cred
	m.loadErr = nil
	return nil
}

func (m *memCreds) Delete(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = nil
	m.loadErr = nil
	m.deletes++
	return nil
}

func (m *memCreds) set(cred *session.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = cred
}

func (m *memCreds) stored() (*session.Credential, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred, m.deletes
}

func (m *memCreds) Watch(ctx context.Context) (<-chan credstore.Change, error) {
	out := make(chan credstore.Change)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-m.changes:
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *memCreds) Close() error { return nil }

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) SessionEvent(source, kind string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, source+":"+kind)
}

func (l *eventLog) has(e string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.events {
		if got == e {
			return true
		}
	}
	return false
}

func setup(t *testing.T, persisted *session.Credential, opts ...Option) (*Bootstrapper, *fakeService, *memCreds, *session.Store) {
	t.Helper()
	svc := newFakeService()
	creds := newMemCreds(persisted)
	store := session.NewStore(creds)
	opts = append([]Option{WithPollInterval(time.Hour)}, opts...)
	return New(svc, store, creds, zerolog.Nop(), opts...), svc, creds, store
}

func start(t *testing.T, b *Bootstrapper) *Subscription {
	t.Helper()
	sub, err := b.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { sub.Close() })
	return sub
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStart_NoPersistedCredential(t *testing.T) {
	b, svc, _, store := setup(t, nil)
	start(t, b)

	sess := store.Get()
	if sess.Status != session.StatusAnonymous || sess.Identity != nil || sess.LastError != nil {
		t.Fatalf("expected clean anonymous session, got %+v", sess)
	}
	if svc.callCount() != 0 {
		t.Error("no validation call expected without a credential")
	}
}

func TestStart_RestoresValidCredential(t *testing.T) {
	rec := &eventLog{}
	b, svc, _, store := setup(t, &session.Credential{Token: "good"}, WithRecorder(rec))
	want := svc.accept("good", session.RoleDoctor)

	start(t, b)

	sess := store.Get()
	if !sess.Authenticated() || sess.Identity.ID != want.ID {
		t.Fatalf("expected restored session, got %+v", sess)
	}
	if !rec.has("startup:restored") {
		t.Errorf("expected startup event, got %v", rec.events)
	}
}

func TestStart_RejectedCredentialIsDiscarded(t *testing.T) {
	b, svc, creds, store := setup(t, &session.Credential{Token: "stale"})
	start(t, b)

	if sess := store.Get(); sess.Status != session.StatusAnonymous || sess.Identity != nil {
		t.Fatalf("expected anonymous session, got %+v", sess)
	}
	if cred, deletes := creds.stored(); cred != nil || deletes != 1 {
		t.Errorf("expected storage cleared, got %+v after %d deletes", cred, deletes)
	}
	if svc.callCount() != 1 {
		t.Errorf("expected exactly one validation attempt, got %d", svc.callCount())
	}
}

func TestStart_NetworkFailureIsNotRetried(t *testing.T) {
	b, svc, creds, store := setup(t, &session.Credential{Token: "good"})
	svc.accept("good")
	svc.failure = identity.ErrUnavailable

	start(t, b)

	if store.Get().Status != session.StatusAnonymous {
		t.Fatal("a failed validation must settle as anonymous")
	}
	if svc.callCount() != 1 {
		t.Errorf("expected one attempt, got %d", svc.callCount())
	}
	if cred, _ := creds.stored(); cred != nil {
		t.Error("expected persisted credential to be discarded")
	}
}

func TestStart_UnreadableCredential(t *testing.T) {
	b, svc, creds, store := setup(t, nil)
	creds.loadErr = errors.New("decode credential: unexpected end of JSON input")

	start(t, b)

	if store.Get().Status != session.StatusAnonymous {
		t.Fatal("expected anonymous session")
	}
	if _, deletes := creds.stored(); deletes != 1 {
		t.Errorf("expected corrupt credential to be deleted, got %d deletes", deletes)
	}
	if svc.callCount() != 0 {
		t.Error("nothing to validate")
	}
}

func TestStart_OnlyOnce(t *testing.T) {
	b, _, _, _ := setup(t, nil)
	start(t, b)

	if _, err := b.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestSubscription_ExpiredSession(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	b, svc, _, store := setup(t, &session.Credential{Token: "good", ExpiresAt: past}, WithPollInterval(10*time.Millisecond))
	svc.accept("good", session.RolePatient)
	start(t, b)

	if !store.Get().Authenticated() {
		t.Fatal("expected restored session")
	}
	svc.revoke("good")

	eventually(t, "session expiry", func() bool { return !store.Get().Authenticated() })
	sess := store.Get()
	if !errors.Is(sess.LastError, auth.ErrSessionExpired) {
		t.Fatalf("expected SessionExpired, got %v", sess.LastError)
	}
	if auth.Message(sess.LastError) == "" {
		t.Error("expected a user-facing message")
	}
}

func TestSubscription_SignedOutElsewhere(t *testing.T) {
	future := time.Now().Add(time.Hour)
	b, svc, creds, store := setup(t, &session.Credential{Token: "good", ExpiresAt: future}, WithPollInterval(10*time.Millisecond))
	svc.accept("good")
	start(t, b)

	svc.revoke("good")

	eventually(t, "sign-out", func() bool { return store.Get().Status == session.StatusAnonymous })
	if err := store.Get().LastError; err != nil {
		t.Errorf("expected no error for a plain sign-out, got %v", err)
	}
	if cred, _ := creds.stored(); cred != nil {
		t.Error("expected storage cleared")
	}
}

func TestSubscription_StorageSignOut(t *testing.T) {
	rec := &eventLog{}
	b, svc, creds, store := setup(t, &session.Credential{Token: "good"}, WithRecorder(rec))
	svc.accept("good")
	start(t, b)

	creds.set(nil)
	creds.changes <- credstore.Change{}

	eventually(t, "storage sign-out", func() bool { return store.Get().Status == session.StatusAnonymous })
	eventually(t, "recorded event", func() bool { return rec.has("storage:signed_out") })
}

func TestApplyChange_ExpiredCredentialRemoved(t *testing.T) {
	rec := &eventLog{}
	b, svc, creds, store := setup(t, nil, WithRecorder(rec))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	id := svc.accept("short")
	store.SetAuthenticated(context.Background(), id, session.Credential{Token: "short", ExpiresAt: now.Add(-time.Second)})

	creds.set(nil)
	b.applyChange(context.Background(), credstore.Change{})

	sess := store.Get()
	if sess.Authenticated() {
		t.Fatal("expected the session cleared")
	}
	if !errors.Is(sess.LastError, auth.ErrSessionExpired) {
		t.Errorf("expected SessionExpired, got %v", sess.LastError)
	}
	if !rec.has("storage:expired") {
		t.Errorf("expected storage:expired, got %v", rec.events)
	}
}

func TestApplyChange_UnexpiredCredentialRemoved(t *testing.T) {
	b, svc, creds, store := setup(t, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	id := svc.accept("long")
	store.SetAuthenticated(context.Background(), id, session.Credential{Token: "long", ExpiresAt: now.Add(time.Hour)})

	creds.set(nil)
	b.applyChange(context.Background(), credstore.Change{})

	if sess := store.Get(); sess.Authenticated() || sess.LastError != nil {
		t.Fatalf("expected a plain sign-out, got %+v", sess)
	}
}

func TestApplyChange_IgnoresSignedOutCredential(t *testing.T) {
	b, svc, creds, store := setup(t, nil)
	id := svc.accept("mine")
	ctx := context.Background()
	store.SetAuthenticated(ctx, id, session.Credential{Token: "mine"})
	// Remote sign-out failed, so the identity service still accepts the token.
	store.Clear(ctx, nil)
	calls := svc.callCount()

	b.applyChange(ctx, credstore.Change{Credential: &session.Credential{Token: "mine"}})

	if store.Get().Authenticated() {
		t.Fatal("a credential cleared locally must not sign the user back in")
	}
	if svc.callCount() != calls {
		t.Error("expected no validation of the cleared credential")
	}
	if cred, _ := creds.stored(); cred != nil {
		t.Error("expected storage to stay empty")
	}

	// Signing in again with the same credential is still possible.
	if err := store.SetAuthenticated(ctx, id, session.Credential{Token: "mine"}); err != nil {
		t.Fatal(err)
	}
	if store.Retired("mine") {
		t.Error("expected a reinstalled credential to no longer be retired")
	}
}

func TestSubscription_StorageSignIn(t *testing.T) {
	b, svc, creds, store := setup(t, nil)
	other := svc.accept("other", session.RoleAdmin)
	start(t, b)

	// Unknown to the identity service, so ignored.
	creds.changes <- credstore.Change{Credential: &session.Credential{Token: "bogus"}}
	creds.changes <- credstore.Change{Credential: &session.Credential{Token: "other"}}

	eventually(t, "storage sign-in", func() bool {
		s := store.Get()
		return s.Authenticated() && s.Identity.ID == other.ID
	})
}

func TestSubscription_IgnoresOwnSave(t *testing.T) {
	b, svc, creds, store := setup(t, &session.Credential{Token: "good"})
	svc.accept("good")
	start(t, b)
	calls := svc.callCount()

	creds.changes <- credstore.Change{Credential: &session.Credential{Token: "good"}}
	// A second send only completes once the loop has taken the first.
	creds.changes <- credstore.Change{Credential: &session.Credential{Token: "good"}}

	if svc.callCount() != calls {
		t.Errorf("expected no validation for the current token, got %d extra calls", svc.callCount()-calls)
	}
	if !store.Get().Authenticated() {
		t.Error("session must stay authenticated")
	}
}

func TestApplyEvent_DropsStaleEvents(t *testing.T) {
	b, svc, _, store := setup(t, nil)
	id := svc.accept("current")
	if err := store.SetAuthenticated(context.Background(), id, session.Credential{Token: "current"}); err != nil {
		t.Fatal(err)
	}

	b.applyEvent(context.Background(), identity.Event{Kind: identity.EventSignedOut, Token: "previous"})
	if !store.Get().Authenticated() {
		t.Fatal("an event about a replaced credential must be ignored")
	}

	b.applyEvent(context.Background(), identity.Event{Kind: identity.EventSignedOut, Token: "current"})
	if store.Get().Authenticated() {
		t.Fatal("expected sign-out for the current credential")
	}
}

func TestApplyEvent_Refreshed(t *testing.T) {
	b, svc, creds, store := setup(t, nil)
	id := svc.accept("current")
	store.SetAuthenticated(context.Background(), id, session.Credential{Token: "current"})

	renamed := id
	renamed.FirstName = "Renamed"
	b.applyEvent(context.Background(), identity.Event{
		Kind:   identity.EventRefreshed,
		Token:  "current",
		Result: &identity.Result{Identity: renamed, Credential: &session.Credential{Token: "current", Bearer: "jwt"}},
	})

	sess := store.Get()
	if sess.Identity.FirstName != "Renamed" || sess.Credential.Bearer != "jwt" {
		t.Fatalf("expected refreshed session, got %+v", sess)
	}
	if cred, _ := creds.stored(); cred == nil || cred.Bearer != "jwt" {
		t.Error("expected refreshed credential to be persisted")
	}
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	b, _, _, _ := setup(t, nil)
	sub, err := b.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		sub.Close()
		sub.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	select {
	case <-sub.Done():
	default:
		t.Fatal("expected event loop to have exited")
	}
}

func TestSubscription_ParentCancel(t *testing.T) {
	b, _, _, _ := setup(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not exit after parent cancel")
	}
	sub.Close()
}
