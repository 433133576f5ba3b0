package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Principal is the authenticated caller as the fulfillment core sees it.
// Token verification itself is an external concern; the core only consumes
// the subject and the admin flag.
type Principal struct {
	SubjectID string
	IsAdmin   bool
}

// System is the principal used by internal consumers (payment-driven
// completion). It bypasses ownership checks the same way an admin does.
var System = Principal{SubjectID: "system", IsAdmin: true}

var ErrUnauthenticated = errors.New("invalid or missing token")

// Authenticator verifies a bearer token. Implementations are swapped by
// configuration, never by duplicating handler code.
type Authenticator interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// StaticAuthenticator maps fixed tokens to principals. Used in development
// and in tests.
type StaticAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]Principal
}

func NewStaticAuthenticator(tokens map[string]Principal) *StaticAuthenticator {
	if tokens == nil {
		tokens = map[string]Principal{}
	}
	return &StaticAuthenticator{tokens: tokens}
}

func (a *StaticAuthenticator) Add(token string, p Principal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = p
}

func (a *StaticAuthenticator) Verify(_ context.Context, token string) (Principal, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.tokens[token]
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	return p, nil
}

// ParseStaticTokens parses the AUTH_TOKENS env format:
// "token:subject[:admin]" entries separated by commas.
func ParseStaticTokens(raw string) map[string]Principal {
	tokens := map[string]Principal{}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 2 || parts[0] == "" {
			continue
		}
		tokens[parts[0]] = Principal{
			SubjectID: parts[1],
			IsAdmin:   len(parts) > 2 && parts[2] == "admin",
		}
	}
	return tokens
}

// OIDCAuthenticator verifies tokens against an OpenID Connect userinfo
// endpoint (Keycloak in the original deployment).
type OIDCAuthenticator struct {
	userinfoURL string
	client      *http.Client
}

func NewOIDCAuthenticator(issuerURL string) *OIDCAuthenticator {
	return &OIDCAuthenticator{
		userinfoURL: strings.TrimRight(issuerURL, "/") + "/protocol/openid-connect/userinfo",
		client:      &http.Client{Timeout: 5 * time.Second},
	}
}

func (a *OIDCAuthenticator) Verify(ctx context.Context, token string) (Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.userinfoURL, nil)
	if err != nil {
		return Principal{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return Principal{}, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Principal{}, ErrUnauthenticated
	}

	var info struct {
		Sub         string `json:"sub"`
		RealmAccess struct {
			Roles []string `json:"roles"`
		} `json:"realm_access"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Principal{}, fmt.Errorf("userinfo decode: %w", err)
	}

	p := Principal{SubjectID: info.Sub}
	for _, role := range info.RealmAccess.Roles {
		if role == "admin" {
			p.IsAdmin = true
		}
	}
	return p, nil
}
