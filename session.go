package trino

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// updateSessionState folds the session-propagation headers of a response
// into the session. It runs after every request, before the response body is
// surfaced to callers, so the next request always reflects the latest
// catalog, schema, properties, transaction, and prepared statements.
// Multiple values of the same header are applied in header order.
func (s *Session) updateSessionState(resp *http.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	header := func(name string) string { return s.client.CanonicalHeader(name) }

	if catalog := resp.Header.Get(header(SetCatalogHeader)); catalog != "" {
		s.catalog = catalog
	}
	if schema := resp.Header.Get(header(SetSchemaHeader)); schema != "" {
		s.schema = schema
	}

	for _, pair := range resp.Header.Values(header(SetSessionHeader)) {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			log.Debug().Str("header", pair).Msg("malformed set-session header, ignoring")
			continue
		}
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			log.Debug().Err(err).Str("header", pair).Msg("undecodable set-session value, ignoring")
			continue
		}
		s.sessionParams[key] = decoded
	}
	for _, key := range resp.Header.Values(header(ClearSessionHeader)) {
		delete(s.sessionParams, key)
	}

	if id := resp.Header.Get(header(StartedTransactionHeader)); id != "" && id != "NONE" {
		s.transactionId = id
	}
	if resp.Header.Get(header(ClearTransactionHeader)) != "" {
		s.transactionId = ""
	}

	for _, pair := range resp.Header.Values(header(AddedPrepareHeader)) {
		name, sql, found := strings.Cut(pair, "=")
		if !found {
			log.Debug().Str("header", pair).Msg("malformed added-prepare header, ignoring")
			continue
		}
		decoded, err := url.QueryUnescape(sql)
		if err != nil {
			log.Debug().Err(err).Str("header", pair).Msg("undecodable added-prepare value, ignoring")
			continue
		}
		s.preparedStatements[name] = decoded
	}
	for _, name := range resp.Header.Values(header(DeallocatedPrepareHeader)) {
		delete(s.preparedStatements, name)
	}
}

// --- State Accessors ---

// CurrentCatalog returns the session's current catalog.
func (s *Session) CurrentCatalog() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// CurrentSchema returns the session's current schema.
func (s *Session) CurrentSchema() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema
}

// TransactionId returns the active transaction id, or "" in autocommit mode.
func (s *Session) TransactionId() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transactionId
}

// SessionParams returns a copy of the session properties.
func (s *Session) SessionParams() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	params := make(map[string]string, len(s.sessionParams))
	for k, v := range s.sessionParams {
		params[k] = v
	}
	return params
}

// PreparedStatements returns a copy of the prepared-statement registry:
// statement name to original SQL text.
func (s *Session) PreparedStatements() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prepared := make(map[string]string, len(s.preparedStatements))
	for k, v := range s.preparedStatements {
		prepared[k] = v
	}
	return prepared
}

// preparedStatement looks up the SQL text registered under name.
func (s *Session) preparedStatement(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sql, ok := s.preparedStatements[name]
	return sql, ok
}

// forgetPreparedStatement removes name from the local registry. The server
// normally drives removal via the deallocated-prepare header; this is the
// local fallback when a deallocation is issued while disconnected.
func (s *Session) forgetPreparedStatement(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.preparedStatements, name)
}
