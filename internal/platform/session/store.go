package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrIncompleteSession is returned when SetAuthenticated is called without
// both halves of the identity/credential pair.
var ErrIncompleteSession = errors.New("session: identity and credential are both required")

// Persister is the durable side of the store: one key holding the credential.
type Persister interface {
	Save(ctx context.Context, cred Credential) error
	Delete(ctx context.Context) error
}

// Store is the single writer of Session state. All mutations replace the
// whole Session under the write lock, so Get never sees a half update.
type Store struct {
	// wmu serializes writers so the persisted key follows memory order.
	wmu      sync.Mutex
	mu       sync.RWMutex
	cur      Session
	persist  Persister
	// retired is the token of the last credential Clear dropped.
	retired  string
	watchers map[chan Session]struct{}
}

// NewStore returns a store in StatusUninitialized. persist may be nil, in
// which case the credential lives only in memory.
func NewStore(persist Persister) *Store {
	return &Store{
		persist:  persist,
		watchers: make(map[chan Session]struct{}),
	}
}

// Get returns a copy of the current session.
func (s *Store) Get() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.clone()
}

// BeginLoading moves an uninitialized store into StatusLoading. It reports
// false if the store has already left the uninitialized state.
func (s *Store) BeginLoading() bool {
	s.mu.Lock()
	if s.cur.Status != StatusUninitialized {
		s.mu.Unlock()
		return false
	}
	s.cur = Session{Status: StatusLoading}
	s.notifyLocked()
	s.mu.Unlock()
	return true
}

// SetAuthenticated installs id and cred and persists the credential. The
// in-memory swap happens first; a persistence failure is returned but the
// session stays authenticated for this process.
func (s *Store) SetAuthenticated(ctx context.Context, id Identity, cred Credential) error {
	if id.ID == uuid.Nil || cred.Token == "" {
		return ErrIncompleteSession
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	if s.retired == cred.Token {
		s.retired = ""
	}
	s.cur = Session{
		Identity:   id.clone(),
		Credential: cred.clone(),
		Status:     StatusAuthenticated,
	}
	s.notifyLocked()
	s.mu.Unlock()

	if s.persist == nil {
		return nil
	}
	if err := s.persist.Save(ctx, cred); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	return nil
}

// Clear drops identity and credential, leaving the session anonymous with
// cause recorded as LastError (nil for a plain sign-out). The persisted
// credential is deleted.
func (s *Store) Clear(ctx context.Context, cause error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	if s.cur.Credential != nil {
		s.retired = s.cur.Credential.Token
	}
	s.cur = Session{
		Status:    StatusAnonymous,
		LastError: cause,
	}
	s.notifyLocked()
	s.mu.Unlock()

	if s.persist == nil {
		return nil
	}
	if err := s.persist.Delete(ctx); err != nil {
		return fmt.Errorf("delete persisted credential: %w", err)
	}
	return nil
}

// Retired reports whether token belongs to the credential most recently
// dropped by Clear and not installed again since.
func (s *Store) Retired(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return token != "" && token == s.retired
}

// Watch returns a channel that receives the latest session after every
// mutation. Slow readers only ever see the newest snapshot. The returned
// func unsubscribes and closes the channel.
func (s *Store) Watch() (<-chan Session, func()) {
	ch := make(chan Session, 1)

	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// notifyLocked must be called with the write lock held so watchers observe
// mutations in order.
func (s *Store) notifyLocked() {
	for ch := range s.watchers {
		// Latest wins: drop a stale pending value before sending.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s.cur.clone():
		default:
		}
	}
}
