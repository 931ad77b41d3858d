package trino

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog/log"
	"github.com/xhit/go-str2duration/v2"
)

func init() {
	sql.Register("trino", &sqlDriver{})
}

// --- DSN Parsing ---

// dsnConfig holds the parsed DSN parameters.
type dsnConfig struct {
	host       string
	port       string
	user       string
	password   string
	catalog    string
	schema     string
	isPresto   bool
	timezone   string
	clientTags []string
	clientInfo string
	source     string

	queryTimeout time.Duration

	useTLS        bool
	sslCert       string
	sslKey        string
	sslCA         string
	sslSkipVerify bool

	// Unrecognized query params become session properties.
	sessionProps map[string]string
}

// parseDSN parses a Trino/Presto DSN string.
//
// Format: trino://[user[:password]@]host[:port][/catalog[/schema]][?key=value&...]
//
//	presto://...
//
// Query params: timezone, client_tags, client_info, source, query_timeout,
// ssl, ssl_cert, ssl_key, ssl_ca, ssl_skip_verify.
// Unrecognized params become session properties.
func parseDSN(dsn string) (*dsnConfig, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid DSN: %w", err)
	}

	cfg := &dsnConfig{
		sessionProps: make(map[string]string),
	}

	switch u.Scheme {
	case "trino":
		cfg.port = "8080"
	case "presto":
		cfg.isPresto = true
		cfg.port = "8080"
	default:
		return nil, fmt.Errorf("unsupported scheme %q: must be trino or presto", u.Scheme)
	}

	if u.User != nil {
		cfg.user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			cfg.password = p
		}
	}

	cfg.host = u.Hostname()
	if cfg.host == "" {
		return nil, fmt.Errorf("missing host in DSN")
	}
	if p := u.Port(); p != "" {
		cfg.port = p
	}

	// Path: /catalog/schema
	path := strings.TrimPrefix(u.Path, "/")
	if path != "" {
		parts := strings.SplitN(path, "/", 2)
		cfg.catalog = parts[0]
		if len(parts) > 1 {
			cfg.schema = parts[1]
		}
	}

	for key, values := range u.Query() {
		val := values[0]
		switch key {
		case "timezone":
			cfg.timezone = val
		case "client_tags":
			cfg.clientTags = strings.Split(val, ",")
		case "client_info":
			cfg.clientInfo = val
		case "source":
			cfg.source = val
		case "query_timeout":
			d, err := str2duration.ParseDuration(val)
			if err != nil {
				return nil, fmt.Errorf("invalid query_timeout %q: %w", val, err)
			}
			cfg.queryTimeout = d
		case "ssl":
			cfg.useTLS = val == "true"
		case "ssl_cert":
			cfg.sslCert = val
			cfg.useTLS = true
		case "ssl_key":
			cfg.sslKey = val
			cfg.useTLS = true
		case "ssl_ca":
			cfg.sslCA = val
			cfg.useTLS = true
		case "ssl_skip_verify":
			cfg.sslSkipVerify = val == "true"
			cfg.useTLS = true
		default:
			cfg.sessionProps[key] = val
		}
	}

	return cfg, nil
}

// serverURL returns the base HTTP URL for the coordinator.
func (cfg *dsnConfig) serverURL() string {
	scheme := "http"
	if cfg.useTLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%s", scheme, cfg.host, cfg.port)
}

// tlsConfig builds the TLS configuration from the DSN's ssl_* params.
func (cfg *dsnConfig) tlsConfig() (*tls.Config, error) {
	if !cfg.useTLS {
		return nil, nil
	}
	tc := &tls.Config{
		InsecureSkipVerify: cfg.sslSkipVerify,
	}
	if cfg.sslCA != "" {
		pem, err := os.ReadFile(cfg.sslCA)
		if err != nil {
			return nil, fmt.Errorf("reading ssl_ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.sslCA)
		}
		tc.RootCAs = pool
	}
	if cfg.sslCert != "" || cfg.sslKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.sslCert, cfg.sslKey)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

// --- Type Conversion ---

// normalizeType strips parameterized parts from a type string.
// e.g. "varchar(255)" → "varchar", "decimal(10,2)" → "decimal"
func normalizeType(t string) string {
	lower := strings.ToLower(strings.TrimSpace(t))
	if idx := strings.IndexByte(lower, '('); idx >= 0 {
		return lower[:idx]
	}
	return lower
}

// scanTypeFor returns the reflect.Type that Scan should use for a column type.
func scanTypeFor(colType string) reflect.Type {
	switch normalizeType(colType) {
	case TypeBigint, TypeInteger, TypeSmallint, TypeTinyint:
		return reflect.TypeOf(int64(0))
	case TypeDouble, TypeReal:
		return reflect.TypeOf(float64(0))
	case TypeBoolean:
		return reflect.TypeOf(false)
	case TypeVarchar, TypeChar, TypeDecimal, TypeJson:
		return reflect.TypeOf("")
	case TypeVarbinary:
		return reflect.TypeOf([]byte(nil))
	case TypeDate, TypeTimestamp, TypeTimestampWithTimeZone, TypeTime, TypeTimeWithTimeZone:
		return reflect.TypeOf(time.Time{})
	default:
		// array, map, row, and unknown types → string (JSON)
		return reflect.TypeOf("")
	}
}

// driverValue narrows a decoded value to the driver.Value domain. Decimals
// become strings for precision safety; composites become JSON strings.
func driverValue(val any) (driver.Value, error) {
	switch v := val.(type) {
	case nil, bool, int64, float64, string, []byte, time.Time:
		return v, nil
	case *apd.Decimal:
		return v.Text('f'), nil
	case []any:
		return marshalJSONString(v)
	case map[string]any:
		return marshalJSONString(v)
	case RowValue:
		return marshalJSONString(rowValueJSON(v))
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func marshalJSONString(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// rowValueJSON renders a RowValue as an object when every field is named,
// falling back to a positional array otherwise.
func rowValueJSON(rv RowValue) any {
	named := len(rv.Names) > 0
	for _, n := range rv.Names {
		if n == "" {
			named = false
			break
		}
	}
	if !named {
		return rv.Values
	}
	obj := make(map[string]any, len(rv.Names))
	for i, n := range rv.Names {
		obj[n] = rv.Values[i]
	}
	return obj
}

// --- Driver Types ---

// sqlDriver implements driver.Driver and driver.DriverContext.
type sqlDriver struct{}

var _ driver.Driver = (*sqlDriver)(nil)
var _ driver.DriverContext = (*sqlDriver)(nil)

// Open implements driver.Driver. It parses the DSN and returns a new connection.
func (d *sqlDriver) Open(dsn string) (driver.Conn, error) {
	connector, err := NewConnector(dsn)
	if err != nil {
		return nil, err
	}
	return connector.Connect(context.Background())
}

// OpenConnector implements driver.DriverContext.
func (d *sqlDriver) OpenConnector(dsn string) (driver.Connector, error) {
	return NewConnector(dsn)
}

// --- Connector ---

// ConnectorOption configures a sqlConnector.
type ConnectorOption func(*sqlConnector)

// WithSessionSetup registers a hook that is called on every new Session
// created by the connector's Connect method. This allows external modules
// (e.g. Kerberos auth) to configure sessions without modifying the core
// driver.
func WithSessionSetup(fn func(*Session)) ConnectorOption {
	return func(c *sqlConnector) {
		c.sessionSetup = fn
	}
}

// sqlConnector implements driver.Connector. It creates a shared Client
// (via sync.Once) and produces new Sessions for each Connect call.
type sqlConnector struct {
	cfg          *dsnConfig
	client       *Client
	once         sync.Once
	err          error
	sessionSetup func(*Session)
}

var _ driver.Connector = (*sqlConnector)(nil)

// NewConnector creates a new driver.Connector from a DSN string.
// Use this with sql.OpenDB for connection pool management.
func NewConnector(dsn string, opts ...ConnectorOption) (driver.Connector, error) {
	cfg, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	c := &sqlConnector{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect implements driver.Connector.
func (c *sqlConnector) Connect(ctx context.Context) (driver.Conn, error) {
	c.once.Do(func() {
		c.client, c.err = NewClient(c.cfg.serverURL())
		if c.err != nil {
			return
		}
		c.client.IsPresto(c.cfg.isPresto)
		tc, err := c.cfg.tlsConfig()
		if err != nil {
			c.err = err
			return
		}
		if tc != nil {
			c.client.HTTPClient(&http.Client{
				Transport: &http.Transport{TLSClientConfig: tc},
			})
		}
	})
	if c.err != nil {
		return nil, c.err
	}

	session := c.client.NewSession()

	if c.cfg.user != "" {
		if c.cfg.password != "" {
			session.UserPassword(c.cfg.user, c.cfg.password)
		} else {
			session.User(c.cfg.user)
		}
	}
	if c.cfg.catalog != "" {
		session.Catalog(c.cfg.catalog)
	}
	if c.cfg.schema != "" {
		session.Schema(c.cfg.schema)
	}
	if c.cfg.timezone != "" {
		session.TimeZone(c.cfg.timezone)
	}
	if c.cfg.clientInfo != "" {
		session.ClientInfo(c.cfg.clientInfo)
	}
	if c.cfg.source != "" {
		session.Source(c.cfg.source)
	}
	if len(c.cfg.clientTags) > 0 {
		session.ClientTags(c.cfg.clientTags...)
	}
	if c.cfg.queryTimeout > 0 {
		session.QueryTimeout(c.cfg.queryTimeout)
	}
	for k, v := range c.cfg.sessionProps {
		session.SessionParam(k, v)
	}

	if c.sessionSetup != nil {
		c.sessionSetup(session)
	}

	return &sqlConn{session: session}, nil
}

// Driver implements driver.Connector.
func (c *sqlConnector) Driver() driver.Driver {
	return &sqlDriver{}
}

// --- Connection ---

// stmtCounter feeds the generated names for driver-level prepared statements.
var stmtCounter atomic.Uint64

// sqlConn implements driver.Conn, driver.QueryerContext, driver.ExecerContext,
// and driver.ConnBeginTx.
type sqlConn struct {
	session *Session
	closed  bool
}

var _ driver.Conn = (*sqlConn)(nil)
var _ driver.QueryerContext = (*sqlConn)(nil)
var _ driver.ExecerContext = (*sqlConn)(nil)
var _ driver.ConnBeginTx = (*sqlConn)(nil)

// Prepare implements driver.Conn.
func (c *sqlConn) Prepare(query string) (driver.Stmt, error) {
	return &sqlStmt{conn: c, query: query}, nil
}

// Close implements driver.Conn.
func (c *sqlConn) Close() error {
	c.closed = true
	return nil
}

// Begin implements driver.Conn. Use BeginTx instead.
func (c *sqlConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx implements driver.ConnBeginTx.
func (c *sqlConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if opts.Isolation != 0 && driver.IsolationLevel(opts.Isolation) != driver.IsolationLevel(sql.LevelDefault) {
		return nil, fmt.Errorf("trino: isolation level %d is not supported", opts.Isolation)
	}
	if opts.ReadOnly {
		return nil, fmt.Errorf("trino: read-only transactions are not supported")
	}

	if err := c.session.exec(ctx, "START TRANSACTION"); err != nil {
		return nil, fmt.Errorf("trino: failed to start transaction: %w", err)
	}
	return &sqlTx{conn: c}, nil
}

// submit routes a statement either directly or, when parameters are present,
// through the server-side PREPARE and EXECUTE path.
func (c *sqlConn) submit(ctx context.Context, query string, args []driver.NamedValue) (*StatementClient, func(), error) {
	if len(args) == 0 {
		st, err := c.session.Submit(ctx, query)
		return st, func() {}, err
	}

	params := make([]any, len(args))
	for i, arg := range args {
		params[i] = arg.Value
	}

	name := fmt.Sprintf("go%d", stmtCounter.Add(1))
	ps, err := c.session.Prepare(ctx, name, query)
	if err != nil {
		return nil, nil, err
	}
	st, err := ps.Execute(ctx, params...)
	if err != nil {
		c.deallocate(ps)
		return nil, nil, err
	}
	return st, func() { c.deallocate(ps) }, nil
}

// deallocate drops a driver-generated prepared statement, best effort.
func (c *sqlConn) deallocate(ps *PreparedStatement) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelRequestTimeout)
	defer cancel()
	if err := ps.Deallocate(ctx); err != nil {
		log.Debug().Err(err).Str("statement", ps.Name()).Msg("deallocate failed")
	}
}

// QueryContext implements driver.QueryerContext.
func (c *sqlConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	st, cleanup, err := c.submit(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return &sqlRows{cursor: st.Cursor(), ctx: ctx, cleanup: cleanup}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *sqlConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	st, cleanup, err := c.submit(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	for {
		page, err := st.Advance(ctx)
		if err != nil {
			return nil, err
		}
		if page == nil {
			break
		}
	}
	return &sqlResult{updateCount: st.UpdateCount()}, nil
}

// --- Result ---

// sqlResult implements driver.Result.
type sqlResult struct {
	updateCount *int64
}

var _ driver.Result = (*sqlResult)(nil)

// LastInsertId implements driver.Result. Auto-increment IDs do not exist here.
func (r *sqlResult) LastInsertId() (int64, error) {
	return 0, fmt.Errorf("trino: LastInsertId is not supported")
}

// RowsAffected implements driver.Result.
func (r *sqlResult) RowsAffected() (int64, error) {
	if r.updateCount == nil {
		return 0, nil
	}
	return *r.updateCount, nil
}

// --- Rows ---

// sqlRows implements driver.Rows along with the column type interfaces.
type sqlRows struct {
	cursor  *Cursor
	ctx     context.Context
	cleanup func()
	closed  bool
}

var _ driver.Rows = (*sqlRows)(nil)
var _ driver.RowsColumnTypeDatabaseTypeName = (*sqlRows)(nil)
var _ driver.RowsColumnTypeScanType = (*sqlRows)(nil)
var _ driver.RowsColumnTypePrecisionScale = (*sqlRows)(nil)

// Columns implements driver.Rows.
func (r *sqlRows) Columns() []string {
	cols := r.cursor.Columns()
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return names
}

// Close implements driver.Rows.
func (r *sqlRows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.cursor.Close()
	if r.cleanup != nil {
		r.cleanup()
	}
	return nil
}

// Next implements driver.Rows.
func (r *sqlRows) Next(dest []driver.Value) error {
	if r.closed {
		return io.EOF
	}

	row, err := r.cursor.Next(r.ctx)
	if err != nil {
		return err
	}
	for i, val := range row {
		if i >= len(dest) {
			break
		}
		dv, err := driverValue(val)
		if err != nil {
			return err
		}
		dest[i] = dv
	}
	return nil
}

// ColumnTypeDatabaseTypeName implements driver.RowsColumnTypeDatabaseTypeName.
func (r *sqlRows) ColumnTypeDatabaseTypeName(index int) string {
	cols := r.cursor.Columns()
	if index < 0 || index >= len(cols) {
		return ""
	}
	return strings.ToUpper(normalizeType(cols[index].Type))
}

// ColumnTypeScanType implements driver.RowsColumnTypeScanType.
func (r *sqlRows) ColumnTypeScanType(index int) reflect.Type {
	cols := r.cursor.Columns()
	if index < 0 || index >= len(cols) {
		return reflect.TypeOf("")
	}
	return scanTypeFor(cols[index].Type)
}

// ColumnTypePrecisionScale implements driver.RowsColumnTypePrecisionScale.
// Only decimal columns report a precision and scale.
func (r *sqlRows) ColumnTypePrecisionScale(index int) (precision, scale int64, ok bool) {
	cols := r.cursor.Columns()
	if index < 0 || index >= len(cols) {
		return 0, 0, false
	}
	sig := cols[index].TypeSignature
	if sig.RawType != TypeDecimal {
		return 0, 0, false
	}
	precision, scale, err := precisionScale(sig)
	if err != nil {
		return 0, 0, false
	}
	return precision, scale, true
}

// --- Statement ---

// sqlStmt implements driver.Stmt, driver.StmtQueryContext, and driver.StmtExecContext.
type sqlStmt struct {
	conn  *sqlConn
	query string
}

var _ driver.Stmt = (*sqlStmt)(nil)
var _ driver.StmtQueryContext = (*sqlStmt)(nil)
var _ driver.StmtExecContext = (*sqlStmt)(nil)

// Close implements driver.Stmt.
func (s *sqlStmt) Close() error {
	return nil
}

// NumInput implements driver.Stmt. Returns -1 to disable driver-side validation.
func (s *sqlStmt) NumInput() int {
	return -1
}

// Exec implements driver.Stmt.
func (s *sqlStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedValues(args))
}

// Query implements driver.Stmt.
func (s *sqlStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedValues(args))
}

// ExecContext implements driver.StmtExecContext.
func (s *sqlStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.conn.ExecContext(ctx, s.query, args)
}

// QueryContext implements driver.StmtQueryContext.
func (s *sqlStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.conn.QueryContext(ctx, s.query, args)
}

// namedValues converts positional args to NamedValue slice.
func namedValues(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

// --- Transaction ---

// sqlTx implements driver.Tx.
type sqlTx struct {
	conn *sqlConn
}

var _ driver.Tx = (*sqlTx)(nil)

// Commit implements driver.Tx.
func (tx *sqlTx) Commit() error {
	return tx.conn.session.exec(context.Background(), "COMMIT")
}

// Rollback implements driver.Tx.
func (tx *sqlTx) Rollback() error {
	return tx.conn.session.exec(context.Background(), "ROLLBACK")
}
