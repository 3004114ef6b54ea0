// Package bootstrap settles the session at startup and keeps it in sync with
// the identity service and with other portal instances sharing credential
// storage.
package bootstrap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/credstore"
	"github.com/hms/hms/internal/platform/identity"
	"github.com/hms/hms/internal/platform/session"
)

// ErrAlreadyStarted is returned by every Start call after the first.
var ErrAlreadyStarted = errors.New("bootstrap: already started")

// Event sources reported to the Recorder.
const (
	SourceStartup  = "startup"
	SourceIdentity = "identity"
	SourceStorage  = "storage"
)

// Recorder receives one call per applied session event. *telemetry.Provider
// implements it.
type Recorder interface {
	SessionEvent(source, kind string)
}

type Option func(*Bootstrapper)

// WithPollInterval sets how often the identity service is asked about the
// current credential.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bootstrapper) { b.pollInterval = d }
}

// WithValidateTimeout bounds the startup validation call.
func WithValidateTimeout(d time.Duration) Option {
	return func(b *Bootstrapper) { b.validateTimeout = d }
}

func WithRecorder(rec Recorder) Option {
	return func(b *Bootstrapper) { b.rec = rec }
}

// Bootstrapper owns startup validation and the change subscription.
type Bootstrapper struct {
	svc    identity.Service
	store  *session.Store
	creds  credstore.Store
	rec    Recorder
	logger zerolog.Logger

	pollInterval    time.Duration
	validateTimeout time.Duration
	poller          *identity.Poller
	now             func() time.Time

	started atomic.Bool
}

func New(svc identity.Service, store *session.Store, creds credstore.Store, logger zerolog.Logger, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		svc:             svc,
		store:           store,
		creds:           creds,
		logger:          logger.With().Str("component", "bootstrap").Logger(),
		pollInterval:    30 * time.Second,
		validateTimeout: 10 * time.Second,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.poller = identity.NewPoller(svc, b.pollInterval, logger)
	return b
}

// Start validates the persisted credential and then subscribes to session
// changes. The session has left the loading state when Start returns. It
// runs once per Bootstrapper.
func (b *Bootstrapper) Start(ctx context.Context) (*Subscription, error) {
	if !b.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	if b.store.BeginLoading() {
		b.validate(ctx)
	} else {
		b.logger.Debug().Str("status", b.store.Get().Status.String()).Msg("session already settled; skipping validation")
	}

	return b.subscribe(ctx), nil
}

// validate resolves the persisted credential in a single attempt. Every
// failure degrades to an anonymous session with storage cleared.
func (b *Bootstrapper) validate(ctx context.Context) {
	cred, err := b.creds.Load(ctx)
	if err != nil {
		b.logger.Warn().Err(err).Msg("persisted credential unreadable; discarding")
		b.clear(ctx, SourceStartup, "discarded", nil)
		return
	}
	if cred == nil {
		b.clear(ctx, SourceStartup, "anonymous", nil)
		return
	}

	vctx, cancel := context.WithTimeout(ctx, b.validateTimeout)
	res, err := b.svc.WhoAmI(vctx, *cred)
	cancel()
	if err != nil {
		b.logger.Info().Err(err).Msg("persisted credential rejected")
		b.clear(ctx, SourceStartup, "discarded", nil)
		return
	}

	if !b.authenticate(ctx, res, cred) {
		b.clear(ctx, SourceStartup, "discarded", nil)
		return
	}
	b.record(SourceStartup, "restored")
	b.logger.Info().Str("identity_id", res.Identity.ID.String()).Msg("session restored")
}

func (b *Bootstrapper) subscribe(parent context.Context) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	changes, err := b.creds.Watch(ctx)
	if err != nil {
		b.logger.Warn().Err(err).Msg("credential storage watch unavailable")
	}
	events := b.poller.Run(ctx, b.store.Get)

	go func() {
		defer close(sub.done)
		b.loop(ctx, events, changes)
	}()
	return sub
}

func (b *Bootstrapper) loop(ctx context.Context, events <-chan identity.Event, changes <-chan credstore.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			b.applyEvent(ctx, ev)
		case ch, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			b.applyChange(ctx, ch)
		}
	}
}

// applyEvent re-syncs the store with the identity service. Events about a
// credential other than the current one are stale and dropped.
func (b *Bootstrapper) applyEvent(ctx context.Context, ev identity.Event) {
	cur := b.store.Get()
	if cur.Credential == nil || cur.Credential.Token != ev.Token {
		b.logger.Debug().Str("kind", ev.Kind.String()).Msg("dropping stale session event")
		return
	}

	switch ev.Kind {
	case identity.EventRefreshed:
		if !b.authenticate(ctx, ev.Result, cur.Credential) {
			return
		}
	case identity.EventExpired:
		b.logger.Info().Msg("session expired")
		b.clear(ctx, SourceIdentity, ev.Kind.String(), auth.SessionExpired())
		return
	case identity.EventSignedOut:
		b.logger.Info().Msg("session ended elsewhere")
		b.clear(ctx, SourceIdentity, ev.Kind.String(), nil)
		return
	default:
		return
	}
	b.record(SourceIdentity, ev.Kind.String())
}

// applyChange follows another instance signing in or out through shared
// storage. A removal of a credential past its expiry counts as expiry, and
// a credential this process already cleared is never picked up again.
func (b *Bootstrapper) applyChange(ctx context.Context, ch credstore.Change) {
	cur := b.store.Get()

	if ch.Credential == nil {
		if !cur.Authenticated() {
			return
		}
		// Our own save may have landed after the delete was observed.
		if cred, err := b.creds.Load(ctx); err == nil && cred != nil {
			return
		}
		if cur.Credential.Expired(b.now()) {
			b.logger.Info().Msg("credential expired in storage")
			b.clear(ctx, SourceStorage, identity.EventExpired.String(), auth.SessionExpired())
			return
		}
		b.logger.Info().Msg("credential removed from storage; signing out")
		b.clear(ctx, SourceStorage, "signed_out", nil)
		return
	}

	if cur.Credential != nil && cur.Credential.Token == ch.Credential.Token {
		return
	}
	if b.store.Retired(ch.Credential.Token) {
		b.logger.Debug().Msg("ignoring signed-out credential from storage")
		return
	}

	res, err := b.svc.WhoAmI(ctx, *ch.Credential)
	if err != nil {
		b.logger.Warn().Err(err).Msg("ignoring unusable credential from storage")
		return
	}
	if b.store.Retired(ch.Credential.Token) {
		return
	}
	if b.authenticate(ctx, res, ch.Credential) {
		b.record(SourceStorage, "signed_in")
		b.logger.Info().Str("identity_id", res.Identity.ID.String()).Msg("session picked up from storage")
	}
}

// authenticate installs res, falling back to fallback when the service did
// not return a credential. It reports whether the store is now authenticated.
func (b *Bootstrapper) authenticate(ctx context.Context, res *identity.Result, fallback *session.Credential) bool {
	cred := res.Credential
	if cred == nil {
		cred = fallback
	}
	err := b.store.SetAuthenticated(ctx, res.Identity, *cred)
	switch {
	case err == nil:
		return true
	case errors.Is(err, session.ErrIncompleteSession):
		b.logger.Warn().Err(err).Msg("identity service returned an incomplete session")
		return false
	default:
		b.logger.Warn().Err(err).Msg("credential not persisted")
		return true
	}
}

func (b *Bootstrapper) clear(ctx context.Context, source, kind string, cause error) {
	if err := b.store.Clear(ctx, cause); err != nil {
		b.logger.Warn().Err(err).Msg("failed to remove persisted credential")
	}
	b.record(source, kind)
}

func (b *Bootstrapper) record(source, kind string) {
	if b.rec != nil {
		b.rec.SessionEvent(source, kind)
	}
}

// Subscription is the live change subscription returned by Start.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close stops every change source and waits for the event loop to exit. It
// is safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

// Done is closed once the event loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }
