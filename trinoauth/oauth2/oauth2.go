// Package oauth2 adds Bearer-token authentication to the trino-go client:
// static tokens and the client-credentials flow. It lives in its own package
// so the oauth2 dependency stays opt-in.
package oauth2

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	trino "github.com/sergeytiron/trino-go"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// NewStaticTokenOption returns a request option carrying a fixed Bearer
// token, for pre-obtained JWTs or long-lived access tokens.
func NewStaticTokenOption(token string) trino.RequestOption {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// TokenSource wraps an oauth2.TokenSource as a request option, for callers
// with their own token plumbing (token files, metadata services, custom
// refresh logic).
func TokenSource(ts oauth2.TokenSource) trino.RequestOption {
	return func(req *http.Request) {
		token, err := ts.Token()
		if err != nil {
			return
		}
		token.SetAuthHeader(req)
	}
}

// Config describes a client-credentials grant.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

func (c *Config) validate() error {
	switch {
	case c.ClientID == "":
		return errors.New("oauth2: ClientID is required")
	case c.ClientSecret == "":
		return errors.New("oauth2: ClientSecret is required")
	case c.TokenURL == "":
		return errors.New("oauth2: TokenURL is required")
	}
	return nil
}

// NewRequestOption returns a request option that obtains and refreshes
// tokens through the client-credentials flow. The option is safe for
// concurrent use; token caching and refresh live in the oauth2 token source.
func NewRequestOption(cfg Config) (trino.RequestOption, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	source := (&clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}).TokenSource(context.Background())

	return func(req *http.Request) {
		token, err := source.Token()
		if err != nil {
			// A request option cannot fail. The missing header draws a
			// 401, which surfaces through the normal error path.
			return
		}
		token.SetAuthHeader(req)
	}, nil
}

// DSN query parameters consumed, and stripped, by NewConnector. A static
// access_token wins over client-credentials parameters when both appear.
const (
	dsnAccessToken  = "access_token"
	dsnClientID     = "oauth2_client_id"
	dsnClientSecret = "oauth2_client_secret"
	dsnTokenURL     = "oauth2_token_url"
	dsnScopes       = "oauth2_scopes"
)

// parseDSN splits the auth parameters out of the DSN. The returned option
// is nil when the DSN carries none.
func parseDSN(dsn string) (trino.RequestOption, string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("oauth2: invalid DSN: %w", err)
	}

	q := u.Query()
	accessToken := q.Get(dsnAccessToken)
	cfg := Config{
		ClientID:     q.Get(dsnClientID),
		ClientSecret: q.Get(dsnClientSecret),
		TokenURL:     q.Get(dsnTokenURL),
	}
	if raw := q.Get(dsnScopes); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				cfg.Scopes = append(cfg.Scopes, trimmed)
			}
		}
	}
	for _, key := range []string{dsnAccessToken, dsnClientID, dsnClientSecret, dsnTokenURL, dsnScopes} {
		q.Del(key)
	}
	u.RawQuery = q.Encode()
	cleanDSN := u.String()

	switch {
	case accessToken != "":
		return NewStaticTokenOption(accessToken), cleanDSN, nil
	case cfg.ClientID != "":
		opt, err := NewRequestOption(cfg)
		if err != nil {
			return nil, "", err
		}
		return opt, cleanDSN, nil
	}
	return nil, cleanDSN, nil
}

// NewConnector wraps trino.NewConnector with Bearer authentication taken
// from DSN parameters: either access_token=<token> or the oauth2_client_id,
// oauth2_client_secret, and oauth2_token_url triple. The auth parameters
// are stripped before the DSN reaches trino.NewConnector.
func NewConnector(dsn string, opts ...trino.ConnectorOption) (driver.Connector, error) {
	authOpt, cleanDSN, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}

	if authOpt != nil {
		setup := trino.WithSessionSetup(func(s *trino.Session) {
			s.RequestOptions(authOpt)
		})
		opts = append([]trino.ConnectorOption{setup}, opts...)
	}

	return trino.NewConnector(cleanDSN, opts...)
}
