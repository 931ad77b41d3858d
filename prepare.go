package trino

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// PreparedStatement is a named statement registered with the server through
// PREPARE. The session keeps the statement text so it can transparently
// re-prepare after the server loses the registration, for example when the
// coordinator restarts.
type PreparedStatement struct {
	session *Session
	name    string
	sql     string
}

// Prepare registers the statement under name on the server and in the
// session's local registry.
func (s *Session) Prepare(ctx context.Context, name, sql string) (*PreparedStatement, error) {
	if err := s.exec(ctx, fmt.Sprintf("PREPARE %s FROM %s", name, sql)); err != nil {
		return nil, err
	}
	return &PreparedStatement{session: s, name: name, sql: sql}, nil
}

// Name returns the statement's server-side name.
func (ps *PreparedStatement) Name() string {
	return ps.name
}

// SQL returns the statement text the session holds for re-preparation.
func (ps *PreparedStatement) SQL() string {
	return ps.sql
}

// Execute runs the prepared statement with the given parameters and returns
// a handle over its results. If the server no longer knows the statement,
// it is prepared again once and the execution retried.
func (ps *PreparedStatement) Execute(ctx context.Context, params ...any) (*StatementClient, error) {
	query, err := ps.executeStatement(params)
	if err != nil {
		return nil, err
	}

	st, err := ps.session.Submit(ctx, query)
	if err == nil || !isLostPreparedStatement(err) {
		return st, err
	}

	log.Debug().Str("statement", ps.name).Msg("re-preparing lost statement")
	if err := ps.session.exec(ctx, fmt.Sprintf("PREPARE %s FROM %s", ps.name, ps.sql)); err != nil {
		return nil, err
	}
	return ps.session.Submit(ctx, query)
}

// Deallocate removes the statement from the server and from the session's
// registry.
func (ps *PreparedStatement) Deallocate(ctx context.Context) error {
	if err := ps.session.exec(ctx, "DEALLOCATE PREPARE "+ps.name); err != nil {
		return err
	}
	ps.session.forgetPreparedStatement(ps.name)
	return nil
}

func (ps *PreparedStatement) executeStatement(params []any) (string, error) {
	if len(params) == 0 {
		return "EXECUTE " + ps.name, nil
	}
	literals := make([]string, len(params))
	for i, p := range params {
		s, err := Serial(p)
		if err != nil {
			return "", fmt.Errorf("parameter %d: %w", i, err)
		}
		literals[i] = s
	}
	return "EXECUTE " + ps.name + " USING " + strings.Join(literals, ", "), nil
}

// exec runs a statement that produces no rows of interest and drains it.
func (s *Session) exec(ctx context.Context, query string) error {
	st, err := s.Submit(ctx, query)
	if err != nil {
		return err
	}
	for {
		page, err := st.Advance(ctx)
		if err != nil {
			return err
		}
		if page == nil {
			return nil
		}
	}
}

// isLostPreparedStatement recognizes the server's complaint about an
// unknown prepared statement name.
func isLostPreparedStatement(err error) bool {
	var qe *QueryError
	if !errors.As(err, &qe) {
		return false
	}
	return qe.ErrorName == "NOT_FOUND" && strings.Contains(qe.Message, "repared statement")
}
