// Package identity is the boundary to the hosted identity service. The rest
// of the portal talks to Service; the Kratos adapter is the production
// implementation.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/hms/hms/internal/platform/session"
)

var (
	// ErrUnauthorized means the service rejected the credential or the
	// email/password pair.
	ErrUnauthorized = errors.New("identity: unauthorized")
	// ErrUnavailable means no response was received.
	ErrUnavailable = errors.New("identity: service unavailable")
	// ErrNoRecoveryFlow is returned when a recovery code is redeemed before
	// a recovery was requested.
	ErrNoRecoveryFlow = errors.New("identity: no recovery in progress")
)

// ServiceError is a response the service understood and refused. Message is
// the service's own human-readable text when it sent one.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("identity: service returned status %d", e.Status)
	}
	return fmt.Sprintf("identity: %s (status %d)", e.Message, e.Status)
}

// Profile is the registration data stored as identity traits.
type Profile struct {
	FirstName    string
	LastName     string
	Role         session.Role
	ProfileImage string
}

// Result is a successful authentication. Credential is nil when the service
// created the identity but requires email confirmation before issuing a
// session.
type Result struct {
	Identity   session.Identity
	Credential *session.Credential
}

// Service is the set of identity operations the portal performs.
type Service interface {
	SignIn(ctx context.Context, email, password string) (*Result, error)
	SignUp(ctx context.Context, email, password string, profile Profile) (*Result, error)
	SignOut(ctx context.Context, cred session.Credential) error
	// WhoAmI validates cred and returns the identity it proves, possibly
	// with a refreshed credential.
	WhoAmI(ctx context.Context, cred session.Credential) (*Result, error)

	// StartRecovery sends a recovery code to email and returns the id of
	// the recovery flow the code belongs to.
	StartRecovery(ctx context.Context, email string) (string, error)
	// RedeemRecovery exchanges the emailed code for a short-lived privileged
	// credential that may change the password.
	RedeemRecovery(ctx context.Context, flowID, code string) (*session.Credential, error)
	UpdatePassword(ctx context.Context, cred session.Credential, newPassword string) error
}
