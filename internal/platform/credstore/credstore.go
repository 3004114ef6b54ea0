// Package credstore persists the client's credential under a single key so a
// restarted portal can resume its session. Each backend also reports changes
// made by other portal instances sharing the same storage.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hms/hms/internal/platform/session"
)

// DefaultKey is the storage key used when none is configured.
const DefaultKey = "hms.credential"

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("credstore: unknown backend")

// Change describes the persisted credential after an outside write.
// Credential is nil when the key was deleted.
type Change struct {
	Credential *session.Credential
}

// Store is one-key durable client storage.
type Store interface {
	// Load returns the persisted credential, or nil when the key is absent.
	Load(ctx context.Context) (*session.Credential, error)
	Save(ctx context.Context, cred session.Credential) error
	Delete(ctx context.Context) error
	// Watch reports changes to the key until ctx is done, then closes the
	// channel.
	Watch(ctx context.Context) (<-chan Change, error)
	Close() error
}

func encode(cred session.Credential) ([]byte, error) {
	b, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("encode credential: %w", err)
	}
	return b, nil
}

func decode(b []byte) (*session.Credential, error) {
	var cred session.Credential
	if err := json.Unmarshal(b, &cred); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	if cred.Token == "" {
		return nil, nil
	}
	return &cred, nil
}

func sameCredential(a, b *session.Credential) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Token == b.Token && a.Bearer == b.Bearer && a.SessionID == b.SessionID && a.ExpiresAt.Equal(b.ExpiresAt)
}
