package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	kratos "github.com/ory/kratos-client-go"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/session"
)

// KratosConfig configures the Ory Kratos adapter.
type KratosConfig struct {
	PublicURL string
	// TokenizeTemplate, when set, asks Kratos to mint a JWT for every
	// session so the backend API can verify bearers offline.
	TokenizeTemplate string
	Timeout          time.Duration
}

// Kratos implements Service with Kratos native (API) self-service flows.
type Kratos struct {
	api      *kratos.APIClient
	tokenize string
	logger   zerolog.Logger
}

var _ Service = (*Kratos)(nil)

// NewKratos builds an adapter for the Kratos public API at cfg.PublicURL.
func NewKratos(cfg KratosConfig, logger zerolog.Logger) (*Kratos, error) {
	u, err := url.Parse(cfg.PublicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid identity service URL %q", cfg.PublicURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	configuration := kratos.NewConfiguration()
	configuration.Servers = []kratos.ServerConfiguration{{URL: strings.TrimRight(cfg.PublicURL, "/")}}
	configuration.UserAgent = "hms-portal"
	configuration.HTTPClient = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Kratos{
		api:      kratos.NewAPIClient(configuration),
		tokenize: cfg.TokenizeTemplate,
		logger:   logger.With().Str("component", "identity").Logger(),
	}, nil
}

func (k *Kratos) SignIn(ctx context.Context, email, password string) (*Result, error) {
	flow, resp, err := k.api.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return nil, k.classify(err, resp, "create login flow")
	}

	body := kratos.UpdateLoginFlowWithPasswordMethodAsUpdateLoginFlowBody(&kratos.UpdateLoginFlowWithPasswordMethod{
		Method:     "password",
		Identifier: email,
		Password:   password,
	})
	login, resp, err := k.api.FrontendAPI.UpdateLoginFlow(ctx).Flow(flow.Id).UpdateLoginFlowBody(body).Execute()
	if err != nil {
		err = k.classify(err, resp, "submit login flow")
		// Kratos answers a wrong password with the flow and a 400.
		var se *ServiceError
		if errors.As(err, &se) && se.Status == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %s", ErrUnauthorized, se.Message)
		}
		return nil, err
	}

	sess := login.GetSession()
	k.logger.Debug().Str("session_id", sess.Id).Msg("login flow completed")
	return k.resultFor(ctx, &sess, login.GetSessionToken())
}

func (k *Kratos) SignUp(ctx context.Context, email, password string, profile Profile) (*Result, error) {
	flow, resp, err := k.api.FrontendAPI.CreateNativeRegistrationFlow(ctx).Execute()
	if err != nil {
		return nil, k.classify(err, resp, "create registration flow")
	}

	traits := map[string]interface{}{
		"email": email,
		"name": map[string]interface{}{
			"first": profile.FirstName,
			"last":  profile.LastName,
		},
		"role": string(profile.Role),
	}
	if profile.ProfileImage != "" {
		traits["profile_image"] = profile.ProfileImage
	}

	body := kratos.UpdateRegistrationFlowWithPasswordMethodAsUpdateRegistrationFlowBody(&kratos.UpdateRegistrationFlowWithPasswordMethod{
		Method:   "password",
		Password: password,
		Traits:   traits,
	})
	reg, resp, err := k.api.FrontendAPI.UpdateRegistrationFlow(ctx).Flow(flow.Id).UpdateRegistrationFlowBody(body).Execute()
	if err != nil {
		return nil, k.classify(err, resp, "submit registration flow")
	}

	if !reg.HasSessionToken() || !reg.HasSession() {
		id, err := mapIdentity(reg.GetIdentity())
		if err != nil {
			return nil, err
		}
		k.logger.Info().Str("identity_id", id.ID.String()).Msg("registration pending email confirmation")
		return &Result{Identity: id}, nil
	}

	sess := reg.GetSession()
	return k.resultFor(ctx, &sess, reg.GetSessionToken())
}

func (k *Kratos) SignOut(ctx context.Context, cred session.Credential) error {
	resp, err := k.api.FrontendAPI.PerformNativeLogout(ctx).
		PerformNativeLogoutBody(*kratos.NewPerformNativeLogoutBody(cred.Token)).
		Execute()
	if err != nil {
		return k.classify(err, resp, "logout")
	}
	return nil
}

func (k *Kratos) WhoAmI(ctx context.Context, cred session.Credential) (*Result, error) {
	req := k.api.FrontendAPI.ToSession(ctx).XSessionToken(cred.Token)
	if k.tokenize != "" {
		req = req.TokenizeAs(k.tokenize)
	}
	sess, resp, err := req.Execute()
	if err != nil {
		return nil, k.classify(err, resp, "whoami")
	}
	if sess.Active != nil && !*sess.Active {
		return nil, fmt.Errorf("%w: session inactive", ErrUnauthorized)
	}
	return build(sess, cred.Token, sess.GetTokenized())
}

func (k *Kratos) StartRecovery(ctx context.Context, email string) (string, error) {
	flow, resp, err := k.api.FrontendAPI.CreateNativeRecoveryFlow(ctx).Execute()
	if err != nil {
		return "", k.classify(err, resp, "create recovery flow")
	}

	body := kratos.UpdateRecoveryFlowWithCodeMethodAsUpdateRecoveryFlowBody(&kratos.UpdateRecoveryFlowWithCodeMethod{
		Method: "code",
		Email:  &email,
	})
	_, resp, err = k.api.FrontendAPI.UpdateRecoveryFlow(ctx).Flow(flow.Id).UpdateRecoveryFlowBody(body).Execute()
	if err != nil {
		return "", k.classify(err, resp, "send recovery code")
	}
	return flow.Id, nil
}

func (k *Kratos) RedeemRecovery(ctx context.Context, flowID, code string) (*session.Credential, error) {
	if flowID == "" {
		return nil, ErrNoRecoveryFlow
	}

	body := kratos.UpdateRecoveryFlowWithCodeMethodAsUpdateRecoveryFlowBody(&kratos.UpdateRecoveryFlowWithCodeMethod{
		Method: "code",
		Code:   &code,
	})
	_, resp, err := k.api.FrontendAPI.UpdateRecoveryFlow(ctx).Flow(flowID).UpdateRecoveryFlowBody(body).Execute()
	// The continue_with union is read from the raw body, so a decode error on
	// an otherwise successful response is not fatal.
	if err != nil && (resp == nil || resp.StatusCode >= http.StatusMultipleChoices) {
		return nil, k.classify(err, resp, "redeem recovery code")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read recovery response: %w", err)
	}
	var flow recoveryResponse
	if err := json.Unmarshal(raw, &flow); err != nil {
		return nil, fmt.Errorf("decode recovery response: %w", err)
	}
	for _, c := range flow.ContinueWith {
		if c.Action == "set_ory_session_token" && c.OrySessionToken != "" {
			return &session.Credential{Token: c.OrySessionToken}, nil
		}
	}

	msg := serviceMessage(raw)
	if msg == "" {
		msg = "The recovery code is invalid or has expired."
	}
	return nil, &ServiceError{Status: http.StatusBadRequest, Message: msg}
}

func (k *Kratos) UpdatePassword(ctx context.Context, cred session.Credential, newPassword string) error {
	flow, resp, err := k.api.FrontendAPI.CreateNativeSettingsFlow(ctx).XSessionToken(cred.Token).Execute()
	if err != nil {
		return k.classify(err, resp, "create settings flow")
	}

	body := kratos.UpdateSettingsFlowWithPasswordMethodAsUpdateSettingsFlowBody(&kratos.UpdateSettingsFlowWithPasswordMethod{
		Method:   "password",
		Password: newPassword,
	})
	_, resp, err = k.api.FrontendAPI.UpdateSettingsFlow(ctx).
		Flow(flow.Id).
		XSessionToken(cred.Token).
		UpdateSettingsFlowBody(body).
		Execute()
	if err != nil {
		return k.classify(err, resp, "update password")
	}
	return nil
}

// resultFor completes a fresh login or registration. When tokenization is
// configured the session is fetched once more to obtain the JWT.
func (k *Kratos) resultFor(ctx context.Context, sess *kratos.Session, token string) (*Result, error) {
	if token == "" {
		return nil, &ServiceError{Status: http.StatusOK, Message: "identity service returned no session token"}
	}
	if k.tokenize == "" {
		return build(sess, token, "")
	}
	return k.WhoAmI(ctx, session.Credential{Token: token})
}

func build(sess *kratos.Session, token, bearer string) (*Result, error) {
	if sess.Identity == nil {
		return nil, &ServiceError{Status: http.StatusOK, Message: "session carries no identity"}
	}
	id, err := mapIdentity(*sess.Identity)
	if err != nil {
		return nil, err
	}

	cred := session.Credential{Token: token, Bearer: bearer, SessionID: sess.Id}
	if sess.ExpiresAt != nil {
		cred.ExpiresAt = *sess.ExpiresAt
	} else if exp, ok := TokenExpiry(token); ok {
		cred.ExpiresAt = exp
	}
	return &Result{Identity: id, Credential: &cred}, nil
}

// mapIdentity reads the portal's identity fields from Kratos traits. Roles
// may live on traits.role or metadata_public.roles; unknown values are
// dropped.
func mapIdentity(ki kratos.Identity) (session.Identity, error) {
	id, err := uuid.Parse(ki.Id)
	if err != nil {
		return session.Identity{}, fmt.Errorf("identity id %q: %w", ki.Id, err)
	}

	traits, _ := ki.Traits.(map[string]interface{})
	out := session.Identity{
		ID:           id,
		Email:        stringField(traits, "email"),
		FirstName:    stringField(traits, "first_name"),
		LastName:     stringField(traits, "last_name"),
		ProfileImage: stringField(traits, "profile_image"),
	}
	if name, ok := traits["name"].(map[string]interface{}); ok {
		if first := stringField(name, "first"); first != "" {
			out.FirstName = first
		}
		if last := stringField(name, "last"); last != "" {
			out.LastName = last
		}
	}

	var raw []string
	raw = appendRoles(raw, traits)
	if meta, ok := ki.MetadataPublic.(map[string]interface{}); ok {
		raw = appendRoles(raw, meta)
	}
	out.Roles = session.ParseRoles(raw)
	return out, nil
}

func appendRoles(dst []string, m map[string]interface{}) []string {
	if r := stringField(m, "role"); r != "" {
		dst = append(dst, r)
	}
	if list, ok := m["roles"].([]interface{}); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				dst = append(dst, s)
			}
		}
	}
	return dst
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// classify turns a client error into ErrUnavailable, ErrUnauthorized or a
// *ServiceError carrying the service's message.
func (k *Kratos) classify(err error, resp *http.Response, op string) error {
	if resp == nil {
		k.logger.Warn().Err(err).Str("op", op).Msg("identity service unreachable")
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}

	var msg string
	var apiErr *kratos.GenericOpenAPIError
	if errors.As(err, &apiErr) {
		msg = serviceMessage(apiErr.Body())
	}

	k.logger.Debug().Str("op", op).Int("status", resp.StatusCode).Str("message", msg).Msg("identity service refused request")

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, op)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s: status %d", ErrUnavailable, op, resp.StatusCode)
	}
	return &ServiceError{Status: resp.StatusCode, Message: msg}
}

type uiText struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type recoveryResponse struct {
	ContinueWith []struct {
		Action          string `json:"action"`
		OrySessionToken string `json:"ory_session_token"`
	} `json:"continue_with"`
}

// serviceMessage extracts the first human-readable message from a Kratos
// flow or error body.
func serviceMessage(body []byte) string {
	var payload struct {
		UI struct {
			Messages []uiText `json:"messages"`
			Nodes    []struct {
				Messages []uiText `json:"messages"`
			} `json:"nodes"`
		} `json:"ui"`
		Error struct {
			Message string `json:"message"`
			Reason  string `json:"reason"`
		} `json:"error"`
	}
	if len(body) == 0 || json.Unmarshal(body, &payload) != nil {
		return ""
	}

	for _, m := range payload.UI.Messages {
		if m.Type == "error" && m.Text != "" {
			return m.Text
		}
	}
	for _, n := range payload.UI.Nodes {
		for _, m := range n.Messages {
			if m.Type == "error" && m.Text != "" {
				return m.Text
			}
		}
	}
	if payload.Error.Reason != "" {
		return payload.Error.Reason
	}
	return payload.Error.Message
}
