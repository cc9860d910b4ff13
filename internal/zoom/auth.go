// Package zoom implements the recording adapter for Zoom Cloud Recording
package zoom

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/nicliuqi/test-opengauss-meetings/internal/config"
	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
)

// DefaultAuthURL is the Zoom OAuth token endpoint
const DefaultAuthURL = "https://zoom.us/oauth/token"

// jwtLifetime is the validity of a legacy app token
const jwtLifetime = time.Hour

// AuthError represents authentication-related errors
type AuthError struct {
	Type   string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error %s: %s (%v)", e.Type, e.Reason, e.Err)
	}
	return fmt.Sprintf("auth error %s: %s", e.Type, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewTokenSource returns a caching token source for the configured credentials.
// With an account id it performs the server-to-server account_credentials exchange,
// otherwise it signs HS256 app tokens with the API key and secret.
func NewTokenSource(ctx context.Context, cfg config.ZoomConfig, client *http.Client) (oauth2.TokenSource, error) {
	switch {
	case cfg.AccountID != "":
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, &recording.ConfigurationError{Field: "zoom.client_id", Reason: "and client_secret are required with account_id"}
		}
		authURL := cfg.AuthURL
		if authURL == "" {
			authURL = DefaultAuthURL
		}
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     authURL,
			EndpointParams: url.Values{
				"grant_type": {"account_credentials"},
				"account_id": {cfg.AccountID},
			},
			AuthStyle: oauth2.AuthStyleInHeader,
		}
		if client != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
		}
		return cc.TokenSource(ctx), nil
	case cfg.APIKey != "":
		if cfg.APISecret == "" {
			return nil, &recording.ConfigurationError{Field: "zoom.api_secret", Reason: "is required with api_key"}
		}
		return oauth2.ReuseTokenSource(nil, &jwtTokenSource{key: cfg.APIKey, secret: cfg.APISecret}), nil
	default:
		return nil, &recording.ConfigurationError{Field: "zoom", Reason: "has no credentials"}
	}
}

// jwtTokenSource mints legacy JWT app tokens
type jwtTokenSource struct {
	key    string
	secret string
	now    func() time.Time
}

func (s *jwtTokenSource) Token() (*oauth2.Token, error) {
	now := time.Now()
	if s.now != nil {
		now = s.now()
	}
	expiry := now.Add(jwtLifetime)

	claims := jwt.RegisteredClaims{
		Issuer:    s.key,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.secret))
	if err != nil {
		return nil, &AuthError{Type: "jwt_generation", Reason: "failed to sign app token", Err: err}
	}

	return &oauth2.Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		Expiry:      expiry,
	}, nil
}
