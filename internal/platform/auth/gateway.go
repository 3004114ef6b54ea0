package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hms/hms/internal/platform/identity"
	"github.com/hms/hms/internal/platform/session"
)

// Operation names used in errors, logs and metrics.
const (
	OpSignIn        = "sign_in"
	OpSignUp        = "sign_up"
	OpSignOut       = "sign_out"
	OpResetRequest  = "password_reset_request"
	OpResetVerify   = "password_reset_verify"
	OpResetConfirm  = "password_reset_confirm"
	genericSignIn   = "Sign-in failed. Please try again."
	genericSignUp   = "Registration failed. Please try again."
	genericReset    = "We could not complete the password reset. Please try again."
	networkMessage  = "We could not reach the sign-in service. Check your connection and try again."
	throttleMessage = "Too many sign-in attempts. Please wait a moment and try again."
)

// Profile is the registration data required alongside email and password.
type Profile struct {
	FirstName    string       `validate:"required,max=100"`
	LastName     string       `validate:"required,max=100"`
	Role         session.Role `validate:"required,oneof=PATIENT DOCTOR"`
	ProfileImage string       `validate:"omitempty,url"`
}

type signUpRequest struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
	Profile  Profile
}

// SignUpResult tells the caller whether the account can be used right away.
// When PendingConfirmation is set no session exists and the Store is
// untouched.
type SignUpResult struct {
	Identity            session.Identity
	PendingConfirmation bool
}

// Recorder receives one call per gateway operation. *telemetry.Provider
// implements it.
type Recorder interface {
	AuthOperation(op, result string)
}

// Gateway performs the identity operations and applies their outcome to the
// session Store. It never reads the Store.
type Gateway struct {
	svc      identity.Service
	store    *session.Store
	validate *validator.Validate
	signIns  *rate.Limiter
	rec      Recorder
	logger   zerolog.Logger

	mu       sync.Mutex
	recovery recoveryState
}

// recoveryState is the in-progress password reset. cred is the privileged
// credential obtained from the emailed code; it never enters the Store.
type recoveryState struct {
	flowID string
	cred   *session.Credential
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithSignInLimit throttles sign-in attempts to r per second with burst.
// WithSignInLimit throttles sign-in attempts to r per second with the given
// burst. A non-positive r disables throttling.
func WithSignInLimit(r rate.Limit, burst int) GatewayOption {
	return func(g *Gateway) {
		if r <= 0 {
			g.signIns = rate.NewLimiter(rate.Inf, 0)
			return
		}
		g.signIns = rate.NewLimiter(r, max(burst, 1))
	}
}

func WithRecorder(rec Recorder) GatewayOption {
	return func(g *Gateway) { g.rec = rec }
}

func NewGateway(svc identity.Service, store *session.Store, logger zerolog.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		svc:      svc,
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		signIns:  rate.NewLimiter(rate.Inf, 0),
		logger:   logger.With().Str("component", "auth-gateway").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SignIn authenticates with email and password. On success the Store is
// already authenticated when SignIn returns.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (_ *session.Identity, err error) {
	defer func() { g.record(OpSignIn, err) }()

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, newError(ErrValidation, OpSignIn, "Email and password are required.", nil)
	}
	if !g.signIns.Allow() {
		return nil, newError(ErrRequestFailed, OpSignIn, throttleMessage, nil)
	}

	res, err := g.svc.SignIn(ctx, email, password)
	if err != nil {
		return nil, g.remoteError(OpSignIn, err, genericSignIn)
	}
	if res.Credential == nil {
		return nil, newError(ErrRequestFailed, OpSignIn, genericSignIn, errors.New("no session issued"))
	}
	if err := g.authenticate(ctx, OpSignIn, res); err != nil {
		return nil, err
	}

	g.logger.Info().Str("identity_id", res.Identity.ID.String()).Msg("signed in")
	id := res.Identity
	return &id, nil
}

// SignUp validates the registration locally, then creates the account.
func (g *Gateway) SignUp(ctx context.Context, email, password string, profile Profile) (_ *SignUpResult, err error) {
	defer func() { g.record(OpSignUp, err) }()

	req := signUpRequest{Email: normalizeEmail(email), Password: password, Profile: profile}
	req.Profile.Role = session.Role(strings.ToUpper(strings.TrimSpace(string(profile.Role))))
	req.Profile.FirstName = strings.TrimSpace(profile.FirstName)
	req.Profile.LastName = strings.TrimSpace(profile.LastName)
	if verr := g.validate.Struct(req); verr != nil {
		return nil, newError(ErrValidation, OpSignUp, validationMessage(verr), verr)
	}

	res, err := g.svc.SignUp(ctx, req.Email, req.Password, identity.Profile{
		FirstName:    req.Profile.FirstName,
		LastName:     req.Profile.LastName,
		Role:         req.Profile.Role,
		ProfileImage: req.Profile.ProfileImage,
	})
	if err != nil {
		return nil, g.remoteError(OpSignUp, err, genericSignUp)
	}

	if res.Credential == nil {
		g.logger.Info().Str("identity_id", res.Identity.ID.String()).Msg("sign-up awaiting email confirmation")
		return &SignUpResult{Identity: res.Identity, PendingConfirmation: true}, nil
	}
	if err := g.authenticate(ctx, OpSignUp, res); err != nil {
		return nil, err
	}
	g.logger.Info().Str("identity_id", res.Identity.ID.String()).Msg("signed up")
	return &SignUpResult{Identity: res.Identity}, nil
}

// SignOut invalidates cred remotely when given and always clears the Store.
// Remote failures are logged and never reported.
func (g *Gateway) SignOut(ctx context.Context, cred *session.Credential) {
	var remoteErr error
	if cred != nil && cred.Token != "" {
		remoteErr = g.svc.SignOut(ctx, *cred)
		if remoteErr != nil {
			g.logger.Warn().Err(remoteErr).Msg("remote sign-out failed; clearing local session anyway")
		}
	}
	if err := g.store.Clear(ctx, nil); err != nil {
		g.logger.Error().Err(err).Msg("failed to remove persisted credential")
	}
	g.record(OpSignOut, remoteErr)
	g.logger.Info().Msg("signed out")
}

// RequestPasswordReset emails a recovery code to email.
func (g *Gateway) RequestPasswordReset(ctx context.Context, email string) (err error) {
	defer func() { g.record(OpResetRequest, err) }()

	email = normalizeEmail(email)
	if verr := g.validate.Var(email, "required,email"); verr != nil {
		return newError(ErrValidation, OpResetRequest, "Enter a valid email address.", verr)
	}

	flowID, err := g.svc.StartRecovery(ctx, email)
	if err != nil {
		return g.resetError(OpResetRequest, err)
	}

	g.mu.Lock()
	g.recovery = recoveryState{flowID: flowID}
	g.mu.Unlock()
	return nil
}

// VerifyPasswordReset redeems the emailed code. The resulting privileged
// credential is kept until ConfirmPasswordReset uses it.
func (g *Gateway) VerifyPasswordReset(ctx context.Context, code string) (err error) {
	defer func() { g.record(OpResetVerify, err) }()

	code = strings.TrimSpace(code)
	if code == "" {
		return newError(ErrValidation, OpResetVerify, "Enter the code from the email.", nil)
	}

	g.mu.Lock()
	flowID := g.recovery.flowID
	g.mu.Unlock()
	if flowID == "" {
		return newError(ErrRequestFailed, OpResetVerify, "Request a password reset first.", identity.ErrNoRecoveryFlow)
	}

	cred, err := g.svc.RedeemRecovery(ctx, flowID, code)
	if err != nil {
		return g.resetError(OpResetVerify, err)
	}

	g.mu.Lock()
	g.recovery.cred = cred
	g.mu.Unlock()
	return nil
}

// ConfirmPasswordReset sets newPassword using the verified recovery.
func (g *Gateway) ConfirmPasswordReset(ctx context.Context, newPassword string) (err error) {
	defer func() { g.record(OpResetConfirm, err) }()

	if newPassword == "" {
		return newError(ErrValidation, OpResetConfirm, "Enter a new password.", nil)
	}

	g.mu.Lock()
	cred := g.recovery.cred
	g.mu.Unlock()
	if cred == nil {
		return newError(ErrRequestFailed, OpResetConfirm,
			"Your reset code has not been verified. Request a new password reset.", identity.ErrNoRecoveryFlow)
	}

	if err := g.svc.UpdatePassword(ctx, *cred, newPassword); err != nil {
		return g.resetError(OpResetConfirm, err)
	}

	g.mu.Lock()
	g.recovery = recoveryState{}
	g.mu.Unlock()

	// The recovery session has served its purpose.
	if err := g.svc.SignOut(ctx, *cred); err != nil {
		g.logger.Debug().Err(err).Msg("recovery session sign-out failed")
	}
	g.logger.Info().Msg("password reset completed")
	return nil
}

func (g *Gateway) authenticate(ctx context.Context, op string, res *identity.Result) error {
	err := g.store.SetAuthenticated(ctx, res.Identity, *res.Credential)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrIncompleteSession):
		return newError(ErrRequestFailed, op, "The sign-in service returned an incomplete account.", err)
	default:
		// The in-memory session is authenticated; only the persisted copy
		// is missing, so the user stays signed in until restart.
		g.logger.Warn().Err(err).Msg("credential not persisted")
		return nil
	}
}

// remoteError normalizes failures of sign-in and sign-up.
func (g *Gateway) remoteError(op string, err error, generic string) error {
	var se *identity.ServiceError
	switch {
	case errors.Is(err, identity.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return newError(ErrNetwork, op, networkMessage, err)
	case errors.Is(err, identity.ErrUnauthorized) && op == OpSignIn:
		return newError(ErrInvalidCredentials, op, "Invalid email or password.", err)
	case errors.As(err, &se) && se.Message != "":
		return newError(ErrRequestFailed, op, se.Message, err)
	default:
		return newError(ErrRequestFailed, op, generic, err)
	}
}

// resetError reports every password reset failure as ErrRequestFailed,
// preferring the service's own message.
func (g *Gateway) resetError(op string, err error) error {
	msg := genericReset
	var se *identity.ServiceError
	switch {
	case errors.As(err, &se) && se.Message != "":
		msg = se.Message
	case errors.Is(err, identity.ErrUnavailable):
		msg = networkMessage
	case errors.Is(err, identity.ErrUnauthorized):
		msg = "Your reset code has expired. Request a new password reset."
	}
	return newError(ErrRequestFailed, op, msg, err)
}

func (g *Gateway) record(op string, err error) {
	if g.rec != nil {
		g.rec.AuthOperation(op, Kind(err))
	}
	if err != nil {
		g.logger.Debug().Err(err).Str("op", op).Msg("auth operation failed")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var fieldLabels = map[string]string{
	"Email":        "Email",
	"Password":     "Password",
	"FirstName":    "First name",
	"LastName":     "Last name",
	"Role":         "Role",
	"ProfileImage": "Profile image",
}

func validationMessage(err error) string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return "Please check the form and try again."
	}
	msgs := make([]string, 0, len(ves))
	for _, fe := range ves {
		label := fieldLabels[fe.Field()]
		if label == "" {
			label = fe.Field()
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, label+" is required.")
		case "email":
			msgs = append(msgs, "Enter a valid email address.")
		case "oneof":
			msgs = append(msgs, "Role must be patient or doctor.")
		case "url":
			msgs = append(msgs, label+" must be a URL.")
		case "max":
			msgs = append(msgs, label+" is too long.")
		default:
			msgs = append(msgs, label+" is invalid.")
		}
	}
	return strings.Join(msgs, " ")
}
