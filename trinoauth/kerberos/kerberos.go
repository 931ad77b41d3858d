// Package kerberos adds SPNEGO authentication to the trino-go client. It
// lives in its own package so the gokrb5 dependency tree stays opt-in.
package kerberos

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/spnego"
	trino "github.com/sergeytiron/trino-go"
)

// Config identifies the Kerberos principal and the files needed to log it in.
type Config struct {
	KeytabPath string // keytab holding the principal's keys
	Principal  string // "user" or "user@EXAMPLE.COM"
	Realm      string // used when Principal carries no realm
	ConfigPath string // krb5.conf
	ServiceSPN string // coordinator SPN, defaults to "HTTP/<hostname>"
}

func (c *Config) validate() error {
	switch {
	case c.KeytabPath == "":
		return errors.New("kerberos: KeytabPath is required")
	case c.Principal == "":
		return errors.New("kerberos: Principal is required")
	case c.Realm == "":
		return errors.New("kerberos: Realm is required")
	case c.ConfigPath == "":
		return errors.New("kerberos: ConfigPath is required")
	}
	return nil
}

// logout destroys the Kerberos session on Close.
type logout struct {
	cl *client.Client
}

func (l *logout) Close() error {
	l.cl.Destroy()
	return nil
}

// NewRequestOption logs the principal in from its keytab and returns a
// request option that attaches a Negotiate token to every request. The
// returned io.Closer destroys the ticket session; call it once the client
// is done.
func NewRequestOption(cfg Config) (trino.RequestOption, io.Closer, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	kt, err := keytab.Load(cfg.KeytabPath)
	if err != nil {
		return nil, nil, fmt.Errorf("kerberos: failed to load keytab %q: %w", cfg.KeytabPath, err)
	}
	krbConf, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("kerberos: failed to load config %q: %w", cfg.ConfigPath, err)
	}

	// A principal carrying its own realm wins over the configured one.
	username, realm := cfg.Principal, cfg.Realm
	if at := strings.LastIndex(username, "@"); at >= 0 {
		username, realm = username[:at], username[at+1:]
	}

	cl := client.NewWithKeytab(username, realm, kt, krbConf)
	if err := cl.Login(); err != nil {
		return nil, nil, fmt.Errorf("kerberos: login failed for %s@%s: %w", username, realm, err)
	}

	opt := func(req *http.Request) {
		spn := cfg.ServiceSPN
		if spn == "" {
			spn = "HTTP/" + req.URL.Hostname()
		}
		// A failed token exchange leaves the header unset; the server's
		// 401 then surfaces through the normal error path.
		_ = spnego.SetSPNEGOHeader(cl, req, spn)
	}

	return opt, &logout{cl: cl}, nil
}

// DSN query parameters consumed, and stripped, by NewConnector.
const (
	dsnKeytab     = "kerberos_keytab"
	dsnPrincipal  = "kerberos_principal"
	dsnRealm      = "kerberos_realm"
	dsnConfig     = "kerberos_config"
	dsnServiceSPN = "kerberos_service_spn"
)

// parseDSN splits the kerberos_* parameters out of the DSN, returning the
// Config they describe and the DSN with them removed.
func parseDSN(dsn string) (Config, string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return Config{}, "", fmt.Errorf("kerberos: invalid DSN: %w", err)
	}

	q := u.Query()
	cfg := Config{
		KeytabPath: q.Get(dsnKeytab),
		Principal:  q.Get(dsnPrincipal),
		Realm:      q.Get(dsnRealm),
		ConfigPath: q.Get(dsnConfig),
		ServiceSPN: q.Get(dsnServiceSPN),
	}
	for _, key := range []string{dsnKeytab, dsnPrincipal, dsnRealm, dsnConfig, dsnServiceSPN} {
		q.Del(key)
	}
	u.RawQuery = q.Encode()

	return cfg, u.String(), nil
}

// NewConnector wraps trino.NewConnector with SPNEGO authentication taken
// from kerberos_* DSN parameters; every session the connector opens carries
// the Negotiate option. Close the returned io.Closer to destroy the ticket
// session once the pool is shut down.
func NewConnector(dsn string) (driver.Connector, io.Closer, error) {
	cfg, cleanDSN, err := parseDSN(dsn)
	if err != nil {
		return nil, nil, err
	}

	opt, closer, err := NewRequestOption(cfg)
	if err != nil {
		return nil, nil, err
	}

	connector, err := trino.NewConnector(cleanDSN, trino.WithSessionSetup(func(s *trino.Session) {
		s.RequestOptions(opt)
	}))
	if err != nil {
		closer.Close()
		return nil, nil, err
	}

	return connector, closer, nil
}
