package provider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/maypok86/otter/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
)

// Public OAuth client registrations of the respective first-party CLIs; the
// refresh tokens stored in credentials were minted against these.
const (
	googleClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	googleClientSecret = "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"
	googleTokenURL     = "https://oauth2.googleapis.com/token"

	anthropicClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	anthropicTokenURL = "https://console.anthropic.com/v1/oauth/token"

	openaiClientID = "app_EMoamEEZ73f0CkXaXp7hrann"
	openaiTokenURL = "https://auth.openai.com/oauth/token"
)

// tokenSlack is how long before expiry a token is treated as stale.
const tokenSlack = time.Minute

type cachedToken struct {
	token  string
	expiry time.Time
}

// TokenSource caches per-credential OAuth access tokens and deduplicates
// concurrent refreshes. Shared by all OAuth-backed handles.
type TokenSource struct {
	cache *otter.Cache[int64, cachedToken]
	sf    singleflight.Group
	now   func() time.Time
}

// NewTokenSource creates the shared token cache.
func NewTokenSource() (*TokenSource, error) {
	c, err := otter.New[int64, cachedToken](&otter.Options[int64, cachedToken]{
		MaximumSize: 4096,
	})
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}
	return &TokenSource{cache: c, now: time.Now}, nil
}

// AccessToken returns a bearer token for the credential. The stored access
// token is used while fresh; otherwise the refresh flow for the provider's
// OAuth kind runs, once per credential even under concurrent requests.
func (s *TokenSource) AccessToken(ctx context.Context, spec Spec, cred *gateway.Credential) (string, error) {
	if tok, ok := s.cache.GetIfPresent(cred.ID); ok && s.now().Before(tok.expiry.Add(-tokenSlack)) {
		return tok.token, nil
	}
	if at := cred.SecretString("access_token"); at != "" {
		if exp, err := time.Parse(time.RFC3339, cred.SecretString("expiry")); err == nil && s.now().Before(exp.Add(-tokenSlack)) {
			return at, nil
		}
	}

	v, err, _ := s.sf.Do(strconv.FormatInt(cred.ID, 10), func() (any, error) {
		tok, err := s.refresh(ctx, spec, cred)
		if err != nil {
			return nil, err
		}
		s.cache.Set(cred.ID, tok)
		return tok.token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token for a credential (admin secret update).
func (s *TokenSource) Invalidate(credID int64) {
	s.cache.Invalidate(credID)
}

func (s *TokenSource) refresh(ctx context.Context, spec Spec, cred *gateway.Credential) (cachedToken, error) {
	if spec.Vertex {
		return s.refreshServiceAccount(ctx, spec, cred)
	}

	var cfg *oauth2.Config
	switch spec.OAuth {
	case OAuthGoogle:
		cfg = &oauth2.Config{
			ClientID:     googleClientID,
			ClientSecret: googleClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: googleTokenURL},
		}
	case OAuthAnthropic:
		cfg = &oauth2.Config{
			ClientID: anthropicClientID,
			Endpoint: oauth2.Endpoint{TokenURL: anthropicTokenURL},
		}
	case OAuthOpenAI:
		cfg = &oauth2.Config{
			ClientID: openaiClientID,
			Endpoint: oauth2.Endpoint{TokenURL: openaiTokenURL},
		}
	default:
		return cachedToken{}, fmt.Errorf("%s: credential %d: no refresh flow", spec.Name, cred.ID)
	}

	rt := cred.SecretString("refresh_token")
	if rt == "" {
		return cachedToken{}, fmt.Errorf("%s: credential %d: missing refresh_token", spec.Name, cred.ID)
	}
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: rt}).Token()
	if err != nil {
		return cachedToken{}, fmt.Errorf("%s: refresh credential %d: %w", spec.Name, cred.ID, err)
	}
	return cachedToken{token: tok.AccessToken, expiry: tok.Expiry}, nil
}

func (s *TokenSource) refreshServiceAccount(ctx context.Context, spec Spec, cred *gateway.Credential) (cachedToken, error) {
	sa := cred.SecretString("service_account_json")
	if sa == "" {
		return cachedToken{}, fmt.Errorf("%s: credential %d: missing service_account_json", spec.Name, cred.ID)
	}
	cfg, err := google.JWTConfigFromJSON([]byte(sa), "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return cachedToken{}, fmt.Errorf("%s: credential %d: parse service account: %w", spec.Name, cred.ID, err)
	}
	tok, err := cfg.TokenSource(ctx).Token()
	if err != nil {
		return cachedToken{}, fmt.Errorf("%s: credential %d: service account token: %w", spec.Name, cred.ID, err)
	}
	return cachedToken{token: tok.AccessToken, expiry: tok.Expiry}, nil
}
