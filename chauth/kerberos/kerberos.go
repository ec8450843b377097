// Package kerberos adds GSS-SPNEGO authentication to clickhouse-client
// requests. ClickHouse accepts Negotiate tokens on its HTTP interface when
// the authenticating user is configured with kerberos identification on the
// server side; the X-ClickHouse-User header the core client sets still names
// that user. Living in its own package keeps the gokrb5 dependency tree out
// of the core module.
package kerberos

import (
	"database/sql/driver"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jcmturner/gokrb5/v8/client"
	krbconf "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/spnego"

	clickhouse "github.com/depyronick/clickhouse-client"
)

// Config locates the credentials for a keytab login.
type Config struct {
	// KeytabPath points at the keytab holding the principal's keys.
	KeytabPath string

	// Principal is the authenticating principal, "user" or "user@REALM".
	Principal string

	// Realm is used when Principal carries no realm of its own.
	Realm string

	// Krb5ConfPath points at the krb5.conf describing the realm's KDCs.
	Krb5ConfPath string

	// SPN is the service principal presented to the server. When empty,
	// each request derives "HTTP/<hostname>" from its own URL, which is
	// the name ClickHouse registers for its HTTP interface.
	SPN string
}

// principalParts splits Principal into name and realm, falling back to the
// configured Realm when the principal is unqualified.
func (c Config) principalParts() (name, realm string) {
	if at := strings.LastIndexByte(c.Principal, '@'); at >= 0 {
		return c.Principal[:at], c.Principal[at+1:]
	}
	return c.Principal, c.Realm
}

func (c Config) check() error {
	switch {
	case c.KeytabPath == "":
		return fmt.Errorf("kerberos: keytab path is required")
	case c.Principal == "":
		return fmt.Errorf("kerberos: principal is required")
	case c.Krb5ConfPath == "":
		return fmt.Errorf("kerberos: krb5.conf path is required")
	}
	if _, realm := c.principalParts(); realm == "" {
		return fmt.Errorf("kerberos: principal %q has no realm and no Realm is configured", c.Principal)
	}
	return nil
}

// Session is a logged-in Kerberos client. It hands out request options that
// negotiate SPNEGO, and must be closed to destroy the session keys.
type Session struct {
	cl  *client.Client
	spn string
}

// NewSession loads the keytab and krb5.conf named by cfg and performs the
// initial login. The caller owns the returned session and must Close it.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}

	kt, err := keytab.Load(cfg.KeytabPath)
	if err != nil {
		return nil, fmt.Errorf("kerberos: loading keytab: %w", err)
	}
	conf, err := krbconf.Load(cfg.Krb5ConfPath)
	if err != nil {
		return nil, fmt.Errorf("kerberos: loading krb5.conf: %w", err)
	}

	name, realm := cfg.principalParts()
	cl := client.NewWithKeytab(name, realm, kt, conf)
	if err := cl.Login(); err != nil {
		return nil, fmt.Errorf("kerberos: login as %s@%s: %w", name, realm, err)
	}
	return &Session{cl: cl, spn: cfg.SPN}, nil
}

// Option returns the RequestOption that attaches a Negotiate header to each
// request. A failed token exchange leaves the request unauthenticated; the
// server answers 401 and the client surfaces that as a ServerError.
func (s *Session) Option() clickhouse.RequestOption {
	return func(req *http.Request) {
		spn := s.spn
		if spn == "" {
			spn = "HTTP/" + req.URL.Hostname()
		}
		_ = spnego.SetSPNEGOHeader(s.cl, req, spn)
	}
}

// Close destroys the session and its cached tickets.
func (s *Session) Close() error {
	s.cl.Destroy()
	return nil
}

// DSN query parameters recognized by NewConnector. They are consumed here
// and stripped before the DSN reaches the core driver.
const (
	paramKeytab    = "kerberos_keytab"
	paramPrincipal = "kerberos_principal"
	paramRealm     = "kerberos_realm"
	paramKrb5Conf  = "kerberos_config"
	paramSPN       = "kerberos_service_spn"
)

// splitDSN extracts the kerberos_* parameters into a Config and returns the
// DSN with them removed.
func splitDSN(dsn string) (Config, string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return Config{}, "", fmt.Errorf("kerberos: bad DSN: %w", err)
	}

	q := u.Query()
	cfg := Config{
		KeytabPath:   q.Get(paramKeytab),
		Principal:    q.Get(paramPrincipal),
		Realm:        q.Get(paramRealm),
		Krb5ConfPath: q.Get(paramKrb5Conf),
		SPN:          q.Get(paramSPN),
	}
	for _, p := range []string{paramKeytab, paramPrincipal, paramRealm, paramKrb5Conf, paramSPN} {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return cfg, u.String(), nil
}

// NewConnector builds a driver.Connector that authenticates every request
// via SPNEGO. The Kerberos setup travels in the DSN query string
// (kerberos_keytab, kerberos_principal, kerberos_realm, kerberos_config,
// kerberos_service_spn). The returned Session must be closed when the
// connector is retired.
func NewConnector(dsn string) (driver.Connector, *Session, error) {
	cfg, cleanDSN, err := splitDSN(dsn)
	if err != nil {
		return nil, nil, err
	}

	session, err := NewSession(cfg)
	if err != nil {
		return nil, nil, err
	}

	connector, err := clickhouse.NewConnector(cleanDSN,
		clickhouse.WithRequestOptions(session.Option()))
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	return connector, session, nil
}
