package trino

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Trino/Presto protocol request headers
const (
	UserHeader              = "X-Trino-User"
	SourceHeader            = "X-Trino-Source"
	CatalogHeader           = "X-Trino-Catalog"
	SchemaHeader            = "X-Trino-Schema"
	SessionHeader           = "X-Trino-Session"
	TransactionHeader       = "X-Trino-Transaction-Id"
	ClientInfoHeader        = "X-Trino-Client-Info"
	ClientTagHeader         = "X-Trino-Client-Tags"
	TimeZoneHeader          = "X-Trino-Time-Zone"
	PreparedStatementHeader = "X-Trino-Prepared-Statement"
)

// Session-propagation headers returned by the server. Each one is folded
// into the session after every response, before the next request is built.
const (
	SetCatalogHeader         = "X-Trino-Set-Catalog"
	SetSchemaHeader          = "X-Trino-Set-Schema"
	SetSessionHeader         = "X-Trino-Set-Session"
	ClearSessionHeader       = "X-Trino-Clear-Session"
	StartedTransactionHeader = "X-Trino-Started-Transaction-Id"
	ClearTransactionHeader   = "X-Trino-Clear-Transaction-Id"
	AddedPrepareHeader       = "X-Trino-Added-Prepare"
	DeallocatedPrepareHeader = "X-Trino-Deallocated-Prepare"
)

const (
	DefaultUser         = "trino-go-client"
	ContentEncodingGzip = "gzip"
)

// RequestOption allows for functional overrides on individual requests
type RequestOption func(*http.Request)

// Session represents an isolated execution context linked to a Client.
// It owns the mutable state carried across requests on one connection:
// catalog, schema, session properties, transaction id, and the
// prepared-statement registry. At most one query should be in flight per
// session at a time; run concurrent queries on separate Clone()s.
type Session struct {
	client        *Client // Link to the parent client for network transport
	userInfo      *url.Userinfo
	basicAuth     string
	catalog       string
	schema        string
	timezone      string
	clientInfo    string
	source        string
	transactionId string
	sessionParams map[string]string
	// preparedStatements maps statement name to its original SQL text.
	preparedStatements map[string]string
	clientTags         []string
	reqOptions         []RequestOption
	queryTimeout       time.Duration

	// mu protects session state during concurrent access
	mu sync.RWMutex
}

// Client serves as the factory and network configuration provider
type Client struct {
	Session     // Embedded default session
	httpClient  *http.Client
	serverUrl   *url.URL
	isPresto    bool
	forceHTTPS  bool
	retryPolicy RetryPolicy
}

// --- Initialization & Lifecycle ---

// NewClient initializes the client and links its embedded session to itself.
// basicAuth is an optional variadic parameter.
func NewClient(serverUrl string, basicAuth ...string) (*Client, error) {
	parsedUrl, err := url.Parse(serverUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	c := &Client{
		httpClient:  &http.Client{},
		serverUrl:   parsedUrl,
		retryPolicy: DefaultRetryPolicy,
		Session: Session{
			userInfo:           url.User(DefaultUser),
			sessionParams:      make(map[string]string),
			preparedStatements: make(map[string]string),
		},
	}

	// Link the embedded session to the client
	c.Session.client = c

	if len(basicAuth) > 0 {
		c.basicAuth = basicAuth[0]
	}

	return c, nil
}

// Clone creates an isolated session copy that maintains the same client link
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	params := make(map[string]string, len(s.sessionParams))
	for k, v := range s.sessionParams {
		params[k] = v
	}

	prepared := make(map[string]string, len(s.preparedStatements))
	for k, v := range s.preparedStatements {
		prepared[k] = v
	}

	tags := make([]string, len(s.clientTags))
	copy(tags, s.clientTags)

	opts := make([]RequestOption, len(s.reqOptions))
	copy(opts, s.reqOptions)

	return &Session{
		client:             s.client, // Maintain the same network client
		userInfo:           s.userInfo,
		basicAuth:          s.basicAuth,
		catalog:            s.catalog,
		schema:             s.schema,
		timezone:           s.timezone,
		clientInfo:         s.clientInfo,
		source:             s.source,
		transactionId:      s.transactionId,
		sessionParams:      params,
		preparedStatements: prepared,
		clientTags:         tags,
		reqOptions:         opts,
		queryTimeout:       s.queryTimeout,
	}
}

// --- Session Setters (Fluent API) ---

func (s *Session) Catalog(catalog string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = catalog
	return s
}

func (s *Session) Schema(schema string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema = schema
	return s
}

func (s *Session) User(user string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userInfo = url.User(user)
	return s
}

func (s *Session) UserPassword(user, password string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userInfo = url.UserPassword(user, password)
	return s
}

func (s *Session) TimeZone(tz string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timezone = tz
	return s
}

func (s *Session) ClientInfo(info string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientInfo = info
	return s
}

func (s *Session) Source(source string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
	return s
}

// SessionParam sets or removes a session property. Set value to "" to remove.
func (s *Session) SessionParam(key, value string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		delete(s.sessionParams, key)
	} else {
		s.sessionParams[key] = value
	}
	return s
}

func (s *Session) ClearSessionParams() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionParams = make(map[string]string)
	return s
}

func (s *Session) ClientTags(tags ...string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientTags = tags
	return s
}

func (s *Session) AppendClientTag(tag string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientTags = append(s.clientTags, tag)
	return s
}

// RequestOptions registers options applied to every request built by this
// session, before any per-call options. Auth helpers use this to attach
// their headers.
func (s *Session) RequestOptions(opts ...RequestOption) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqOptions = append(s.reqOptions, opts...)
	return s
}

// QueryTimeout sets the overall deadline for queries submitted through this
// session. It bounds the cumulative poll loop, not individual requests;
// exceeding it surfaces a TimeoutError. Zero means no deadline.
func (s *Session) QueryTimeout(d time.Duration) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryTimeout = d
	return s
}

// --- Request Lifecycle ---

// NewRequest builds an http.Request using internal session and client states,
// accepting optional overrides.
func (s *Session) NewRequest(method, urlStr string, body any, options ...RequestOption) (*http.Request, error) {
	u, err := s.client.prepareURL(urlStr)
	if err != nil {
		return nil, err
	}

	bodyReader, contentType, err := s.client.prepareRequestBody(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(method, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}

	s.applyHeaders(req)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept-Encoding", ContentEncodingGzip)

	// Session-level options first, then per-call overrides
	s.mu.RLock()
	sessionOpts := s.reqOptions
	s.mu.RUnlock()
	for _, opt := range sessionOpts {
		opt(req)
	}
	for _, opt := range options {
		opt(req)
	}

	return req, nil
}

func (s *Session) applyHeaders(req *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// 1. Identity & Auth
	if s.userInfo != nil {
		req.Header.Set(s.client.CanonicalHeader(UserHeader), s.userInfo.Username())
		if s.basicAuth != "" {
			req.Header.Set("Authorization", "Basic "+s.basicAuth)
		} else if pass, ok := s.userInfo.Password(); ok {
			req.SetBasicAuth(s.userInfo.Username(), pass)
		}
	}

	// 2. Contextual Headers
	if s.catalog != "" {
		req.Header.Set(s.client.CanonicalHeader(CatalogHeader), s.catalog)
	}
	if s.schema != "" {
		req.Header.Set(s.client.CanonicalHeader(SchemaHeader), s.schema)
	}
	if s.timezone != "" {
		req.Header.Set(s.client.CanonicalHeader(TimeZoneHeader), s.timezone)
	}
	if s.clientInfo != "" {
		req.Header.Set(s.client.CanonicalHeader(ClientInfoHeader), s.clientInfo)
	}
	if s.source != "" {
		req.Header.Set(s.client.CanonicalHeader(SourceHeader), s.source)
	}

	// 3. State Headers
	if s.transactionId != "" {
		req.Header.Set(s.client.CanonicalHeader(TransactionHeader), s.transactionId)
	}
	if len(s.sessionParams) > 0 {
		req.Header.Set(s.client.CanonicalHeader(SessionHeader), generatePairsHeader(s.sessionParams))
	}
	if len(s.preparedStatements) > 0 {
		header := s.client.CanonicalHeader(PreparedStatementHeader)
		for _, name := range sortedKeys(s.preparedStatements) {
			req.Header.Add(header, name+"="+url.QueryEscape(s.preparedStatements[name]))
		}
	}
	if len(s.clientTags) > 0 {
		req.Header.Set(s.client.CanonicalHeader(ClientTagHeader), strings.Join(s.clientTags, ","))
	}
}

// --- Execution ---

// Do executes the request, retrying transient failures per the client's
// RetryPolicy, and folds session-propagation headers from the response into
// the session before decoding the body into v.
func (s *Session) Do(ctx context.Context, req *http.Request, v any) (*http.Response, error) {
	req = req.WithContext(ctx)

	// Buffer the request body so it can be replayed on retries.
	// io.Reader is consumed after the first attempt, so we need GetBody.
	if req.Body != nil && req.GetBody == nil {
		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(bodyBytes)), nil
		}
	}

	budget := retryBudget{policy: s.client.retryPolicy}
	for {
		resp, err := s.client.httpClient.Do(req)
		if err != nil {
			// Retry on transient network errors, but not on context cancellation
			if !budget.policy.RetryableError(err) {
				return nil, err
			}

			delay, ok := budget.next()
			if !ok {
				return nil, &ProtocolError{Reason: "retry budget exhausted", Cause: err}
			}

			log.Debug().Err(err).Int("attempt", budget.attempt).Msg("retrying on connection error")

			if req.GetBody != nil {
				req.Body, _ = req.GetBody()
			}
			if sleepErr := sleep(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		// Fold session-propagation headers before anything else sees the
		// response, so the next request reflects the latest state.
		s.updateSessionState(resp)

		// 204 comes back from DELETE endpoints.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < 300 {
			err = s.client.decodeResponseBody(resp, v)
			return resp, err
		}

		if budget.policy.RetryableStatus(resp.StatusCode) {
			if closeErr := resp.Body.Close(); closeErr != nil {
				log.Debug().Err(closeErr).Msg("failed to close response body")
			}

			delay, ok := budget.next()
			if !ok {
				return resp, &ProtocolError{
					Reason: "retry budget exhausted",
					Cause:  fmt.Errorf("server returned status %d", resp.StatusCode),
				}
			}

			log.Debug().Int("status", resp.StatusCode).Int("attempt", budget.attempt).Msg("retrying on server status")

			// Reset the request body for the next attempt
			if req.GetBody != nil {
				req.Body, _ = req.GetBody()
			}
			if sleepErr := sleep(ctx, delay); sleepErr != nil {
				return resp, sleepErr
			}
			continue
		}

		return resp, NewErrorResponse(resp)
	}
}

// --- Client Configuration & Delegation ---

// IsPresto switches the client to the legacy X-Presto-* header dialect.
func (c *Client) IsPresto(isPresto bool) *Client {
	c.isPresto = isPresto
	return c
}

func (c *Client) ForceHTTPS(force bool) *Client {
	c.forceHTTPS = force
	return c
}

// RetryPolicy overrides the client's retry policy.
func (c *Client) RetryPolicy(policy RetryPolicy) *Client {
	c.retryPolicy = policy
	return c
}

// RequestTimeout bounds each individual HTTP exchange. Zero means no
// per-request timeout. The overall query deadline is controlled separately
// via Session.QueryTimeout.
func (c *Client) RequestTimeout(d time.Duration) *Client {
	c.httpClient.Timeout = d
	return c
}

// HTTPClient replaces the underlying HTTP client, e.g. to install a custom
// TLS configuration or transport.
func (c *Client) HTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// --- Client Networking Utilities ---

func (c *Client) prepareURL(urlStr string) (*url.URL, error) {
	u, err := c.serverUrl.Parse(urlStr)
	if err != nil {
		return nil, err
	}
	if c.forceHTTPS && u.Scheme == "http" {
		u.Scheme = "https"
	}
	return u, nil
}

func (c *Client) prepareRequestBody(body any) (io.Reader, string, error) {
	if body == nil {
		return nil, "", nil
	}
	if s, ok := body.(string); ok {
		return strings.NewReader(s), "text/plain", nil
	}
	jsonBuf := &bytes.Buffer{}
	if err := json.NewEncoder(jsonBuf).Encode(body); err != nil {
		return nil, "", err
	}
	return jsonBuf, "application/json", nil
}

// CanonicalHeader transforms a Trino-style header key (starting with
// "X-Trino-") into its Presto equivalent ("X-Presto-") if the client is
// configured in Presto mode. This keeps the internal code on a single
// naming convention while supporting both dialects of the protocol.
func (c *Client) CanonicalHeader(name string) string {
	if c.isPresto {
		return strings.Replace(name, "X-Trino", "X-Presto", 1)
	}
	return name
}

// generatePairsHeader encodes a property map as "k1=v1,k2=v2" with
// URL-escaped values, in sorted key order for deterministic requests.
func generatePairsHeader(params map[string]string) string {
	pairs := make([]string, 0, len(params))
	for _, k := range sortedKeys(params) {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, url.QueryEscape(params[k])))
	}
	return strings.Join(pairs, ",")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Client) decodeResponseBody(resp *http.Response, v any) (err error) {
	// Ensure the main response body is always closed
	defer func() {
		closeErr := resp.Body.Close()
		if err == nil {
			err = closeErr
		}
	}()

	// 1. Early return if no destination is provided
	if v == nil {
		return nil
	}

	var reader io.Reader = resp.Body

	// 2. Handle decompression
	if resp.Header.Get("Content-Encoding") == ContentEncodingGzip {
		gz, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			return fmt.Errorf("failed to create gzip reader: %w", gzErr)
		}

		defer func() {
			if cErr := gz.Close(); cErr != nil {
				// Logged instead of returned to avoid overwriting
				// primary decoding errors.
				log.Debug().Err(cErr).Msg("failed to close gzip reader")
			}
		}()
		reader = gz
	}

	// 3. Decode payload
	if w, ok := v.(io.Writer); ok {
		_, err = io.Copy(w, reader)
		return err
	}

	if err = json.NewDecoder(reader).Decode(v); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("failed to decode JSON: %w", err)
	}

	return nil
}

// NewSession creates a new, isolated session using the client's current
// connection settings. The new session is linked to this client but
// maintains its own headers, transaction state, and prepared statements.
func (c *Client) NewSession() *Session {
	// Clone the embedded default session to pick up any defaults
	// (like basicAuth or User) already configured on the client.
	return c.Session.Clone()
}
