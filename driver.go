package clickhouse

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

func init() {
	sql.Register("clickhouse", &chDriver{})
}

// --- DSN Parsing ---

// dsnConfig holds the parsed DSN parameters.
type dsnConfig struct {
	host        string
	port        int
	protocol    Protocol
	user        string
	password    string
	database    string
	compression Compression
	// Unrecognized query params are forwarded as server settings.
	settings map[string]string
}

// parseDSN parses a ClickHouse HTTP DSN string.
//
// Format: clickhouse://[user[:password]@]host[:port][/database][?key=value&...]
//
// Recognized query params: secure (switches to HTTPS), compress (gzip,
// deflate or br). Unrecognized params are forwarded to the server as
// settings on every request.
func parseDSN(dsn string) (*dsnConfig, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid DSN: %w", err)
	}
	if u.Scheme != "clickhouse" {
		return nil, fmt.Errorf("unsupported scheme %q: must be clickhouse", u.Scheme)
	}

	cfg := &dsnConfig{
		protocol: ProtocolHTTP,
		settings: make(map[string]string),
	}

	// User info
	if u.User != nil {
		cfg.user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			cfg.password = p
		}
	}

	// Host and port
	cfg.host = u.Hostname()
	if cfg.host == "" {
		return nil, fmt.Errorf("missing host in DSN")
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q in DSN", p)
		}
		cfg.port = port
	}

	// Path: /database
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		cfg.database = db
	}

	// Query params
	for key, values := range u.Query() {
		val := values[0]
		switch key {
		case "secure":
			if val == "true" || val == "1" {
				cfg.protocol = ProtocolHTTPS
			}
		case "compress":
			method, ok := compressionEncodings.RLookup(val)
			if !ok {
				return nil, fmt.Errorf("unsupported compression %q: must be gzip, deflate or br", val)
			}
			cfg.compression = method
		default:
			cfg.settings[key] = val
		}
	}

	return cfg, nil
}

// options builds the client Options for this DSN. The driver always uses
// JSONCompact so rows can be scanned positionally against the meta columns.
func (cfg *dsnConfig) options() Options {
	opts := Options{
		Host:        cfg.host,
		Port:        cfg.port,
		Protocol:    cfg.protocol,
		Username:    cfg.user,
		Password:    cfg.password,
		Database:    cfg.database,
		Format:      FormatJSONCompact,
		Compression: cfg.compression,
	}
	if len(cfg.settings) > 0 {
		settings := cfg.settings
		opts.RequestOptions = append(opts.RequestOptions, func(req *http.Request) {
			q := req.URL.Query()
			for k, v := range settings {
				q.Set(k, v)
			}
			req.URL.RawQuery = q.Encode()
		})
	}
	return opts
}

// --- Parameter Interpolation ---

// valueToSQL converts a Go driver.Value to a ClickHouse literal string.
func valueToSQL(v driver.Value) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		if val {
			return "true", nil
		}
		return "false", nil
	case string:
		return quoteString(val), nil
	case []byte:
		return "unhex('" + hex.EncodeToString(val) + "')", nil
	case time.Time:
		return "'" + val.Format("2006-01-02 15:04:05") + "'", nil
	default:
		return "", fmt.Errorf("unsupported parameter type: %T", v)
	}
}

// quoteString produces a single-quoted ClickHouse string literal, escaping
// backslashes and quotes with backslashes.
func quoteString(s string) string {
	var buf strings.Builder
	buf.Grow(len(s) + 2)
	buf.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'', '\\':
			buf.WriteByte('\\')
		}
		buf.WriteByte(s[i])
	}
	buf.WriteByte('\'')
	return buf.String()
}

// interpolateParams replaces ? placeholders in the query with SQL literals.
// It skips ? characters inside single-quoted string literals, honoring both
// backslash escapes and doubled quotes.
func interpolateParams(query string, args []driver.Value) (string, error) {
	if len(args) == 0 {
		return query, nil
	}

	var buf strings.Builder
	buf.Grow(len(query) + len(args)*8)
	argIdx := 0
	inString := false

	for i := 0; i < len(query); i++ {
		ch := query[i]
		if inString && ch == '\\' && i+1 < len(query) {
			buf.WriteByte(ch)
			buf.WriteByte(query[i+1])
			i++
			continue
		}
		if ch == '\'' {
			if inString && i+1 < len(query) && query[i+1] == '\'' {
				// Doubled quote inside string literal
				buf.WriteByte('\'')
				buf.WriteByte('\'')
				i++
				continue
			}
			inString = !inString
			buf.WriteByte(ch)
			continue
		}
		if ch == '?' && !inString {
			if argIdx >= len(args) {
				return "", fmt.Errorf("not enough arguments: query has more placeholders than the %d provided arguments", len(args))
			}
			s, err := valueToSQL(args[argIdx])
			if err != nil {
				return "", err
			}
			buf.WriteString(s)
			argIdx++
			continue
		}
		buf.WriteByte(ch)
	}

	if argIdx != len(args) {
		return "", fmt.Errorf("too many arguments: %d provided but only %d placeholders in query", len(args), argIdx)
	}
	return buf.String(), nil
}

// --- Type Conversion ---

// normalizeType reduces a ClickHouse type string to its base type name:
// wrapper types are unwrapped and parameters stripped.
// e.g. "Nullable(String)" → "string", "Decimal(10,2)" → "decimal",
// "LowCardinality(FixedString(16))" → "fixedstring".
func normalizeType(t string) string {
	lower := strings.ToLower(strings.TrimSpace(t))

	for {
		switch {
		case strings.HasPrefix(lower, "nullable(") && strings.HasSuffix(lower, ")"):
			lower = lower[len("nullable(") : len(lower)-1]
		case strings.HasPrefix(lower, "lowcardinality(") && strings.HasSuffix(lower, ")"):
			lower = lower[len("lowcardinality(") : len(lower)-1]
		default:
			if idx := strings.IndexByte(lower, '('); idx >= 0 {
				return lower[:idx]
			}
			return lower
		}
	}
}

// scanTypeForClickHouseType returns the reflect.Type Scan should use for a
// given ClickHouse column type.
func scanTypeForClickHouseType(chType string) reflect.Type {
	switch normalizeType(chType) {
	case "int8", "int16", "int32", "int64", "uint8", "uint16", "uint32", "uint64":
		return reflect.TypeOf(int64(0))
	case "float32", "float64":
		return reflect.TypeOf(float64(0))
	case "bool":
		return reflect.TypeOf(false)
	case "string", "fixedstring", "uuid", "ipv4", "ipv6", "enum8", "enum16", "decimal":
		return reflect.TypeOf("")
	case "date", "date32", "datetime", "datetime64":
		return reflect.TypeOf(time.Time{})
	default:
		// Array, Map, Tuple, JSON and unknown types → string (JSON)
		return reflect.TypeOf("")
	}
}

// convertValue converts a JSON-unmarshalled value to the appropriate Go type
// based on the ClickHouse column type. 64-bit integers arrive as strings
// when the server quotes them (output_format_json_quote_64bit_integers is on
// by default), so the integer paths accept both encodings.
func convertValue(val any, chType string) (driver.Value, error) {
	if val == nil {
		return nil, nil
	}

	switch normalizeType(chType) {
	case "int8", "int16", "int32", "int64", "uint8", "uint16", "uint32", "uint64":
		switch v := val.(type) {
		case float64:
			return int64(v), nil
		case string:
			return strconv.ParseInt(v, 10, 64)
		case json.Number:
			return v.Int64()
		default:
			return nil, fmt.Errorf("cannot convert %T to int64 for type %s", val, chType)
		}

	case "float32", "float64":
		switch v := val.(type) {
		case float64:
			return v, nil
		case string:
			// nan/inf are emitted as strings
			return strconv.ParseFloat(v, 64)
		case json.Number:
			return v.Float64()
		default:
			return nil, fmt.Errorf("cannot convert %T to float64 for type %s", val, chType)
		}

	case "bool":
		if b, ok := val.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("cannot convert %T to bool for type %s", val, chType)

	case "string", "fixedstring", "uuid", "ipv4", "ipv6", "enum8", "enum16":
		if s, ok := val.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", val), nil

	case "decimal":
		// Return as string for precision safety
		switch v := val.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case json.Number:
			return v.String(), nil
		default:
			return fmt.Sprintf("%v", val), nil
		}

	case "date", "date32":
		if s, ok := val.(string); ok {
			return time.Parse("2006-01-02", s)
		}
		return nil, fmt.Errorf("cannot convert %T to date", val)

	case "datetime", "datetime64":
		if s, ok := val.(string); ok {
			return parseDateTime(s)
		}
		return nil, fmt.Errorf("cannot convert %T to datetime", val)

	default:
		// Array, Map, Tuple, JSON and unknown types → JSON string
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}

// parseDateTime parses a ClickHouse DateTime/DateTime64 string.
func parseDateTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05.000000000",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse datetime %q", s)
}

// --- Driver Types ---

// chDriver implements driver.Driver and driver.DriverContext.
type chDriver struct{}

var _ driver.Driver = (*chDriver)(nil)
var _ driver.DriverContext = (*chDriver)(nil)

// Open implements driver.Driver. It parses the DSN and returns a new connection.
func (d *chDriver) Open(dsn string) (driver.Conn, error) {
	connector, err := NewConnector(dsn)
	if err != nil {
		return nil, err
	}
	return connector.Connect(context.Background())
}

// OpenConnector implements driver.DriverContext.
func (d *chDriver) OpenConnector(dsn string) (driver.Connector, error) {
	return NewConnector(dsn)
}

// --- Connector ---

// ConnectorOption configures a chConnector.
type ConnectorOption func(*chConnector)

// WithRequestOptions registers request options applied to every request the
// connector's clients issue. External modules (e.g. the chauth packages)
// use this to attach authentication without modifying the core driver.
func WithRequestOptions(opts ...RequestOption) ConnectorOption {
	return func(c *chConnector) {
		c.reqOpts = append(c.reqOpts, opts...)
	}
}

// chConnector implements driver.Connector. It creates one shared Client
// (via sync.Once) handed to every connection: the client is stateless, so
// connections are interchangeable.
type chConnector struct {
	cfg     *dsnConfig
	reqOpts []RequestOption
	client  *Client
	once    sync.Once
}

var _ driver.Connector = (*chConnector)(nil)

// NewConnector creates a new driver.Connector from a DSN string.
// Use this with sql.OpenDB for connection pool management.
func NewConnector(dsn string, opts ...ConnectorOption) (driver.Connector, error) {
	cfg, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	c := &chConnector{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect implements driver.Connector.
func (c *chConnector) Connect(ctx context.Context) (driver.Conn, error) {
	c.once.Do(func() {
		opts := c.cfg.options()
		opts.RequestOptions = append(opts.RequestOptions, c.reqOpts...)
		c.client = NewClient(opts)
	})
	return &chConn{client: c.client}, nil
}

// Driver implements driver.Connector.
func (c *chConnector) Driver() driver.Driver {
	return &chDriver{}
}

// --- Connection ---

// chConn implements driver.Conn, driver.QueryerContext, driver.ExecerContext
// and driver.Pinger.
type chConn struct {
	client *Client
	closed bool
}

var _ driver.Conn = (*chConn)(nil)
var _ driver.QueryerContext = (*chConn)(nil)
var _ driver.ExecerContext = (*chConn)(nil)
var _ driver.Pinger = (*chConn)(nil)

// Prepare implements driver.Conn.
func (c *chConn) Prepare(query string) (driver.Stmt, error) {
	return &chStmt{conn: c, query: query}, nil
}

// Close implements driver.Conn.
func (c *chConn) Close() error {
	c.closed = true
	return nil
}

// Begin implements driver.Conn. ClickHouse has no transactions.
func (c *chConn) Begin() (driver.Tx, error) {
	return nil, fmt.Errorf("clickhouse: transactions are not supported")
}

// Ping implements driver.Pinger.
func (c *chConn) Ping(ctx context.Context) error {
	ok, err := c.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return driver.ErrBadConn
	}
	return nil
}

// QueryContext implements driver.QueryerContext.
func (c *chConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	positional := namedToPositional(args)
	interpolated, err := interpolateParams(query, positional)
	if err != nil {
		return nil, err
	}
	return newRows(ctx, c.client, interpolated)
}

// ExecContext implements driver.ExecerContext.
func (c *chConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	positional := namedToPositional(args)
	interpolated, err := interpolateParams(query, positional)
	if err != nil {
		return nil, err
	}
	if err := c.client.Exec(ctx, interpolated, nil); err != nil {
		return nil, err
	}
	return chResult{}, nil
}

// namedToPositional converts named values to a positional driver.Value slice.
func namedToPositional(args []driver.NamedValue) []driver.Value {
	positional := make([]driver.Value, len(args))
	for i, arg := range args {
		positional[i] = arg.Value
	}
	return positional
}

// --- Statement ---

// chStmt implements driver.Stmt by delegating to the connection. The HTTP
// interface has no server-side prepared statements.
type chStmt struct {
	conn  *chConn
	query string
}

var _ driver.Stmt = (*chStmt)(nil)
var _ driver.StmtQueryContext = (*chStmt)(nil)
var _ driver.StmtExecContext = (*chStmt)(nil)

func (s *chStmt) Close() error  { return nil }
func (s *chStmt) NumInput() int { return -1 }

func (s *chStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), valuesToNamed(args))
}

func (s *chStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), valuesToNamed(args))
}

func (s *chStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.conn.QueryContext(ctx, s.query, args)
}

func (s *chStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.conn.ExecContext(ctx, s.query, args)
}

func valuesToNamed(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

// --- Result ---

// chResult implements driver.Result. The HTTP interface reports neither
// insert IDs nor affected row counts.
type chResult struct{}

var _ driver.Result = chResult{}

// LastInsertId implements driver.Result.
func (chResult) LastInsertId() (int64, error) {
	return 0, fmt.Errorf("clickhouse: LastInsertId is not supported")
}

// RowsAffected implements driver.Result.
func (chResult) RowsAffected() (int64, error) {
	return 0, nil
}

// --- Rows ---

// chRows implements driver.Rows over the streaming envelope decoder. A
// producer goroutine runs the decode and hands rows over a channel, so Next
// pulls rows one at a time with bounded memory.
type chRows struct {
	cancel  context.CancelFunc
	rowCh   chan json.RawMessage
	errCh   chan error
	columns []Column

	finalErr    error
	errConsumed bool
	done        bool
}

var _ driver.Rows = (*chRows)(nil)

// newRows starts the decode goroutine and waits for column metadata (or
// early termination) before returning. Envelope field order is not
// guaranteed: rows decoded before the meta field arrives are buffered in the
// producer and flushed once it does, so the handoff never blocks against the
// metadata wait.
func newRows(ctx context.Context, client *Client, statement string) (*chRows, error) {
	runCtx, cancel := context.WithCancel(ctx)
	r := &chRows{
		cancel: cancel,
		rowCh:  make(chan json.RawMessage),
		errCh:  make(chan error, 1),
	}
	metaCh := make(chan []Column, 1)

	go func() {
		var pending []json.RawMessage
		metaSeen := false

		deliver := func(raw json.RawMessage) error {
			select {
			case r.rowCh <- raw:
				return nil
			case <-runCtx.Done():
				return runCtx.Err()
			}
		}

		err := client.queryRaw(runCtx, statement, nil,
			func(cols []Column) error {
				metaCh <- cols
				metaSeen = true
				for _, raw := range pending {
					if err := deliver(raw); err != nil {
						return err
					}
				}
				pending = nil
				return nil
			},
			func(raw json.RawMessage) error {
				if !metaSeen {
					pending = append(pending, raw)
					return nil
				}
				return deliver(raw)
			})
		r.errCh <- err
		close(r.rowCh)
	}()

	select {
	case cols := <-metaCh:
		r.columns = cols
	case err := <-r.errCh:
		cancel()
		r.errConsumed = true
		r.done = true
		if err != nil {
			return nil, err
		}
		// Completed without metadata: empty result set.
	}
	return r, nil
}

// Columns implements driver.Rows.
func (r *chRows) Columns() []string {
	names := make([]string, len(r.columns))
	for i, col := range r.columns {
		names[i] = col.Name
	}
	return names
}

// Close implements driver.Rows. It cancels the producer and drains it so
// the goroutine always terminates.
func (r *chRows) Close() error {
	r.cancel()
	for range r.rowCh {
	}
	if !r.errConsumed {
		<-r.errCh
		r.errConsumed = true
	}
	r.done = true
	return nil
}

// Next implements driver.Rows.
func (r *chRows) Next(dest []driver.Value) error {
	if r.done {
		if r.finalErr != nil {
			return r.finalErr
		}
		return io.EOF
	}

	raw, ok := <-r.rowCh
	if !ok {
		err := <-r.errCh
		r.errConsumed = true
		r.done = true
		r.finalErr = err
		if err != nil {
			return err
		}
		return io.EOF
	}

	var row []any
	if err := json.Unmarshal(raw, &row); err != nil {
		return fmt.Errorf("clickhouse: failed to unmarshal row data: %w", err)
	}

	for i, col := range r.columns {
		if i >= len(row) {
			dest[i] = nil
			continue
		}
		val, err := convertValue(row[i], col.Type)
		if err != nil {
			return err
		}
		dest[i] = val
	}
	return nil
}

// ColumnTypeDatabaseTypeName implements driver.RowsColumnTypeDatabaseTypeName.
func (r *chRows) ColumnTypeDatabaseTypeName(index int) string {
	if index < 0 || index >= len(r.columns) {
		return ""
	}
	return r.columns[index].Type
}

// ColumnTypeScanType implements driver.RowsColumnTypeScanType.
func (r *chRows) ColumnTypeScanType(index int) reflect.Type {
	if index < 0 || index >= len(r.columns) {
		return reflect.TypeOf("")
	}
	return scanTypeForClickHouseType(r.columns[index].Type)
}
