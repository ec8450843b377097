// Package oauth2 attaches Bearer tokens to clickhouse-client requests, for
// deployments where ClickHouse sits behind an identity-aware proxy or a
// cloud endpoint that expects Authorization headers. The proxy consumes the
// token; the X-ClickHouse-User header the core client sets is untouched and
// still names the database user. Living in its own package keeps the oauth2
// dependency out of the core module.
package oauth2

import (
	"context"
	"database/sql/driver"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	clickhouse "github.com/depyronick/clickhouse-client"
)

// BearerToken returns a RequestOption that presents a fixed token on every
// request, for pre-obtained JWTs and long-lived access tokens.
func BearerToken(token string) clickhouse.RequestOption {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// TokenSource returns a RequestOption backed by any oauth2.TokenSource:
// file-based tokens, instance metadata, or custom refresh logic. When the
// source fails the request proceeds without the header and the endpoint's
// 401 surfaces as a ServerError; a RequestOption cannot return an error.
func TokenSource(src oauth2.TokenSource) clickhouse.RequestOption {
	return func(req *http.Request) {
		tok, err := src.Token()
		if err != nil {
			return
		}
		tok.SetAuthHeader(req)
	}
}

// Credentials configures the two-legged client-credentials grant.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

func (c Credentials) check() error {
	switch {
	case c.ClientID == "":
		return fmt.Errorf("oauth2: client id is required")
	case c.ClientSecret == "":
		return fmt.Errorf("oauth2: client secret is required")
	case c.TokenURL == "":
		return fmt.Errorf("oauth2: token url is required")
	}
	return nil
}

// Option returns a RequestOption that obtains tokens through the
// client-credentials flow. Tokens are fetched lazily, cached, and refreshed
// by the underlying token source, which is safe for concurrent use.
func (c Credentials) Option() (clickhouse.RequestOption, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	src := (&clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scopes:       c.Scopes,
	}).TokenSource(context.Background())

	return TokenSource(src), nil
}

// DSN query parameters recognized by NewConnector. They are consumed here
// and stripped before the DSN reaches the core driver.
const (
	paramToken        = "access_token"
	paramClientID     = "oauth2_client_id"
	paramClientSecret = "oauth2_client_secret"
	paramTokenURL     = "oauth2_token_url"
	paramScopes       = "oauth2_scopes"
)

// optionFromDSN picks the auth mode out of the DSN: a fixed access_token
// wins over client credentials, and with neither present no option is
// attached. The returned DSN has all oauth2 parameters stripped.
func optionFromDSN(dsn string) (clickhouse.RequestOption, string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("oauth2: bad DSN: %w", err)
	}

	q := u.Query()
	token := q.Get(paramToken)
	creds := Credentials{
		ClientID:     q.Get(paramClientID),
		ClientSecret: q.Get(paramClientSecret),
		TokenURL:     q.Get(paramTokenURL),
	}
	if raw := q.Get(paramScopes); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				creds.Scopes = append(creds.Scopes, s)
			}
		}
	}
	for _, p := range []string{paramToken, paramClientID, paramClientSecret, paramTokenURL, paramScopes} {
		q.Del(p)
	}
	u.RawQuery = q.Encode()

	switch {
	case token != "":
		return BearerToken(token), u.String(), nil
	case creds.ClientID != "":
		opt, err := creds.Option()
		if err != nil {
			return nil, "", err
		}
		return opt, u.String(), nil
	default:
		return nil, u.String(), nil
	}
}

// NewConnector builds a driver.Connector whose requests carry Bearer
// authentication configured through DSN parameters: either a fixed
// access_token, or oauth2_client_id / oauth2_client_secret /
// oauth2_token_url (plus optional comma-separated oauth2_scopes) for the
// client-credentials grant.
func NewConnector(dsn string, opts ...clickhouse.ConnectorOption) (driver.Connector, error) {
	opt, cleanDSN, err := optionFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if opt != nil {
		opts = append([]clickhouse.ConnectorOption{clickhouse.WithRequestOptions(opt)}, opts...)
	}
	return clickhouse.NewConnector(cleanDSN, opts...)
}
