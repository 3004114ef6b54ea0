package identity

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/session"
)

// EventKind classifies a change detected on the identity service.
type EventKind int

const (
	// EventRefreshed carries a new credential or updated identity fields.
	EventRefreshed EventKind = iota + 1
	// EventExpired means the credential passed its expiry and was refused.
	EventExpired
	// EventSignedOut means the session was revoked before its expiry,
	// typically by signing out elsewhere.
	EventSignedOut
)

func (k EventKind) String() string {
	switch k {
	case EventRefreshed:
		return "refreshed"
	case EventExpired:
		return "expired"
	case EventSignedOut:
		return "signed_out"
	default:
		return "unknown"
	}
}

// Event is one session change. Token is the credential that was checked, so
// consumers can drop events about a session that has since been replaced.
// Result is set only for EventRefreshed.
type Event struct {
	Kind   EventKind
	Token  string
	Result *Result
}

const (
	minPollWait = time.Second
	bearerSkew  = 10 * time.Second
)

// Poller turns periodic WhoAmI calls into a stream of session change events.
type Poller struct {
	svc      Service
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewPoller(svc Service, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		svc:      svc,
		interval: interval,
		logger:   logger.With().Str("component", "identity-poller").Logger(),
		now:      time.Now,
	}
}

// Run polls until ctx is done, then closes the returned channel. current is
// consulted on every tick; ticks are skipped while it reports no credential.
func (p *Poller) Run(ctx context.Context, current func() session.Session) <-chan Event {
	out := make(chan Event, 1)
	go func() {
		defer close(out)

		timer := time.NewTimer(p.wait(current()))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			sess := current()
			if ev, ok := p.check(ctx, sess); ok {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			timer.Reset(p.wait(current()))
		}
	}()
	return out
}

func (p *Poller) check(ctx context.Context, sess session.Session) (Event, bool) {
	if !sess.Authenticated() {
		return Event{}, false
	}
	cred := *sess.Credential

	res, err := p.svc.WhoAmI(ctx, cred)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnauthorized):
		if cred.Expired(p.now()) {
			return Event{Kind: EventExpired, Token: cred.Token}, true
		}
		return Event{Kind: EventSignedOut, Token: cred.Token}, true
	default:
		if ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("session check failed")
		}
		return Event{}, false
	}

	if sameIdentity(sess.Identity, &res.Identity) && sameCredential(&cred, res.Credential) {
		return Event{}, false
	}
	return Event{Kind: EventRefreshed, Token: cred.Token, Result: res}, true
}

// wait is the poll interval, shortened so a JWT bearer is renewed shortly
// before it expires.
func (p *Poller) wait(sess session.Session) time.Duration {
	d := p.interval
	if sess.Credential == nil {
		return d
	}
	if exp, ok := TokenExpiry(sess.Credential.Bearer); ok {
		until := exp.Add(-bearerSkew).Sub(p.now())
		if until < d {
			d = max(until, minPollWait)
		}
	}
	return d
}

func sameIdentity(a, b *session.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID &&
		a.Email == b.Email &&
		a.FirstName == b.FirstName &&
		a.LastName == b.LastName &&
		a.ProfileImage == b.ProfileImage &&
		slices.Equal(a.Roles, b.Roles)
}

func sameCredential(a, b *session.Credential) bool {
	if b == nil {
		return true
	}
	return a.Token == b.Token && a.Bearer == b.Bearer && a.ExpiresAt.Equal(b.ExpiresAt)
}
