package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// DefaultSafetyMargin is how long before expiry a cached token is refreshed.
const DefaultSafetyMargin = 5 * time.Minute

var tracer = otel.Tracer("trigear/internal/commerce")

// Credential is a client-credentials pair for the commerce platform.
type Credential struct {
	ClientID     string
	ClientSecret string
}

// AccessToken is a bearer token scoped to one market.
type AccessToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Scope     string    `json:"scope"`
}

// ExpiresAtMillis is the expiry as unix epoch milliseconds.
func (t AccessToken) ExpiresAtMillis() int64 {
	return t.ExpiresAt.UnixMilli()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Scope        string `json:"scope"`
}

// TokenProviderConfig configures a TokenProvider. Zero values get defaults.
type TokenProviderConfig struct {
	TokenURL     string
	HTTPClient   *http.Client
	SafetyMargin time.Duration
	Now          func() time.Time
}

// TokenProvider hands out bearer tokens per scope, reusing a cached token
// until it is within the safety margin of expiry.
type TokenProvider struct {
	tokenURL   string
	httpClient *http.Client
	margin     time.Duration
	now        func() time.Time

	mu     sync.Mutex
	tokens map[string]AccessToken
	gen    uint64 // bumped by Clear and Invalidate
	group  singleflight.Group
}

func NewTokenProvider(cfg TokenProviderConfig) *TokenProvider {
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = AuthURL(DefaultDomain)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenProvider{
		tokenURL:   cfg.TokenURL,
		httpClient: cfg.HTTPClient,
		margin:     cfg.SafetyMargin,
		now:        cfg.Now,
		tokens:     make(map[string]AccessToken),
	}
}

// Token returns a valid token for scope, requesting a new one only when the
// cached entry is missing or close to expiry.
func (p *TokenProvider) Token(ctx context.Context, cred Credential, scope string) (AccessToken, error) {
	if err := validateCredential(cred, scope); err != nil {
		return AccessToken{}, err
	}

	if tok, ok := p.cached(scope); ok {
		return tok, nil
	}

	ch := p.group.DoChan(scope, func() (any, error) {
		// the refresh outlives any one caller; the HTTP client timeout bounds it
		fctx := context.WithoutCancel(ctx)
		// another caller may have refreshed while we waited on the group
		if tok, ok := p.cached(scope); ok {
			return tok, nil
		}
		p.mu.Lock()
		gen := p.gen
		p.mu.Unlock()

		tok, err := p.requestToken(fctx, cred, scope)
		if err != nil {
			return AccessToken{}, err
		}
		p.mu.Lock()
		if p.gen == gen {
			p.tokens[scope] = tok
		}
		p.mu.Unlock()
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return AccessToken{}, res.Err
		}
		if res.Shared {
			slog.DebugContext(ctx, "shared token refresh", "scope", scope)
		}
		return res.Val.(AccessToken), nil
	case <-ctx.Done():
		return AccessToken{}, &AuthenticationError{Scope: scope, Reason: "timeout: " + ctx.Err().Error(), Err: ctx.Err()}
	}
}

// Invalidate drops the cached token for scope. A refresh already in flight
// still answers its callers but is not cached.
func (p *TokenProvider) Invalidate(scope string) {
	p.mu.Lock()
	delete(p.tokens, scope)
	p.gen++
	p.mu.Unlock()
}

// Clear drops every cached token, including any refresh still in flight.
func (p *TokenProvider) Clear() {
	p.mu.Lock()
	p.tokens = make(map[string]AccessToken)
	p.gen++
	p.mu.Unlock()
}

func (p *TokenProvider) cached(scope string) (AccessToken, bool) {
	p.mu.Lock()
	tok, ok := p.tokens[scope]
	p.mu.Unlock()
	if !ok {
		return AccessToken{}, false
	}
	if !p.now().Before(tok.ExpiresAt.Add(-p.margin)) {
		return AccessToken{}, false
	}
	return tok, true
}

func (p *TokenProvider) requestToken(ctx context.Context, cred Credential, scope string) (AccessToken, error) {
	ctx, span := tracer.Start(ctx, "commerce.token", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("commerce.scope", scope))

	tok, err := p.doTokenRequest(ctx, cred, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token request failed")
		slog.ErrorContext(ctx, "commerce token request failed", "scope", scope, "error", err)
		return AccessToken{}, err
	}
	slog.InfoContext(ctx, "fetched commerce token", "scope", scope, "expiresAt", tok.ExpiresAt)
	return tok, nil
}

func (p *TokenProvider) doTokenRequest(ctx context.Context, cred Credential, scope string) (AccessToken, error) {
	payload, err := json.Marshal(tokenRequest{
		GrantType:    "client_credentials",
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Scope:        scope,
	})
	if err != nil {
		return AccessToken{}, &AuthenticationError{Scope: scope, Reason: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return AccessToken{}, &AuthenticationError{Scope: scope, Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return AccessToken{}, &AuthenticationError{Scope: scope, Reason: transportReason(ctx, err), Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := readBody(resp)
	if err != nil {
		return AccessToken{}, &AuthenticationError{Scope: scope, StatusCode: resp.StatusCode, Reason: "read response", Err: err}
	}
	if !isSuccess(resp.StatusCode) {
		return AccessToken{}, &AuthenticationError{
			Scope:      scope,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return AccessToken{}, &AuthenticationError{Scope: scope, StatusCode: resp.StatusCode, Reason: "decode response", Err: err}
	}
	if tr.AccessToken == "" {
		return AccessToken{}, &AuthenticationError{Scope: scope, StatusCode: resp.StatusCode, Reason: "response had no access_token"}
	}

	grantedScope := tr.Scope
	if grantedScope == "" {
		grantedScope = scope
	}
	return AccessToken{
		Token:     tr.AccessToken,
		ExpiresAt: p.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
		Scope:     grantedScope,
	}, nil
}

func validateCredential(cred Credential, scope string) error {
	var missing []string
	if strings.TrimSpace(cred.ClientID) == "" {
		missing = append(missing, "client id")
	}
	if strings.TrimSpace(cred.ClientSecret) == "" {
		missing = append(missing, "client secret")
	}
	if strings.TrimSpace(scope) == "" {
		missing = append(missing, "scope")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing, Reason: "invalid credential"}
	}
	return nil
}

func transportReason(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return "timeout: " + ctx.Err().Error()
	}
	if t, ok := err.(interface{ Timeout() bool }); ok && t.Timeout() {
		return "timeout"
	}
	return "transport"
}
