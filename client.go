package clickhouse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClickHouse HTTP protocol headers and literals.
const (
	UserHeader = "X-ClickHouse-User"
	KeyHeader  = "X-ClickHouse-Key"

	// paramPrefix marks a query-string entry as a bound statement parameter.
	// A statement placeholder {name:Type} is matched by param_name=<value>.
	paramPrefix = "param_"

	// pingSuccessBody is the exact literal a healthy server returns from
	// the liveness path. Anything else, including a missing trailing
	// newline, is not a healthy response.
	pingSuccessBody = "Ok.\n"

	pingPath = "/ping"

	// DefaultPingTimeout bounds Ping when no explicit timeout is given.
	DefaultPingTimeout = 3 * time.Second
)

// RequestOption allows for functional overrides on individual requests.
type RequestOption func(*http.Request)

// Parameters holds named statement parameters. Each entry becomes a
// param_<name>=<value> query-string entry matching a {name:Type} placeholder
// in the statement. Values are stringified, not SQL-escaped: type coercion
// against the declared placeholder type is the server's responsibility.
type Parameters map[string]any

// Client talks to a single ClickHouse server over its HTTP interface. It
// holds no mutable state beyond its resolved configuration, so a single
// instance is safe for concurrent use; concurrent calls share nothing but
// the underlying http.Client.
type Client struct {
	cfg config
}

// NewClient resolves opts against the documented defaults and returns a
// ready client. No connection is made; use Ping to verify reachability.
func NewClient(opts Options) *Client {
	return &Client{cfg: opts.resolve()}
}

// --- Request Construction ---

// baseQuery returns the query-string entries common to every request:
// the target database and, when compression is negotiated, the flag that
// enables server-side response compression.
func (c *Client) baseQuery() url.Values {
	q := url.Values{}
	q.Set("database", c.cfg.database)
	if c.cfg.compression != CompressionNone {
		q.Set("enable_http_compression", "1")
	}
	return q
}

// applyHeaders sets credentials and content negotiation headers, then runs
// the client-wide request options followed by the per-call ones.
func (c *Client) applyHeaders(req *http.Request, opts []RequestOption) {
	req.Header.Set(UserHeader, c.cfg.username)
	if c.cfg.password != "" {
		req.Header.Set(KeyHeader, c.cfg.password)
	}
	if enc, ok := compressionEncodings.Lookup(c.cfg.compression); ok {
		req.Header.Set("Accept-Encoding", enc)
	}

	for _, opt := range c.cfg.reqOpts {
		opt(req)
	}
	for _, opt := range opts {
		opt(req)
	}
}

// newQueryRequest builds the request for a SELECT-style statement. The
// statement travels in the body with the configured FORMAT directive
// appended, unless raw is set (Exec and the insert path supply their own
// framing). Named parameters become param_<name> query-string entries.
func (c *Client) newQueryRequest(ctx context.Context, statement string, params Parameters, raw bool, opts ...RequestOption) (*http.Request, error) {
	if strings.TrimSpace(statement) == "" {
		return nil, &InvalidArgumentError{Reason: "query required"}
	}

	q := c.baseQuery()
	for name, value := range params {
		q.Set(paramPrefix+name, fmt.Sprint(value))
	}

	body := statement
	if !raw {
		body = statement + " FORMAT " + string(c.cfg.format)
	}

	u := *c.cfg.baseURL
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/plain")
	c.applyHeaders(req, opts)

	return req, nil
}

// newInsertRequest builds the write request for a serialized record batch.
// The INSERT statement with its row-format directive travels in the query
// string so the body can be the bare newline-delimited records.
func (c *Client) newInsertRequest(ctx context.Context, table string, batch io.Reader, opts ...RequestOption) (*http.Request, error) {
	q := c.baseQuery()
	q.Set("query", "INSERT INTO "+table+" FORMAT "+string(FormatJSONEachRow))

	u := *c.cfg.baseURL
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), batch)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	c.applyHeaders(req, opts)

	return req, nil
}

// --- Execution & Error Extraction ---

// do issues the request and applies the error-extraction contract: transport
// failures are logged once and wrapped in TransportError; non-2xx responses
// have their body fully drained (releasing the connection), trimmed, logged
// once and returned as ServerError. On success the response is returned with
// its body open; the caller owns draining and closing it.
func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	resp, err := c.cfg.httpClient.Do(req)
	if err != nil {
		c.cfg.logger.Error().Err(err).Str("op", op).Msg("clickhouse request failed")
		return nil, &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.extractError(op, resp)
	}

	return resp, nil
}

// extractError drains an error response end-to-end and converts it into a
// ServerError. The drain is mandatory even if the message is discarded
// upstream, so the underlying connection can be reused.
func (c *Client) extractError(op string, resp *http.Response) error {
	defer resp.Body.Close()

	body, err := contentReader(resp)
	if err != nil {
		// Undecipherable encoding; fall back to the raw bytes.
		body = io.NopCloser(resp.Body)
	}
	defer body.Close()

	raw, readErr := io.ReadAll(body)
	message := strings.TrimSpace(string(raw))
	if readErr != nil && message == "" {
		message = readErr.Error()
	}

	c.cfg.logger.Error().
		Str("op", op).
		Int("status", resp.StatusCode).
		Msg(message)

	return &ServerError{StatusCode: resp.StatusCode, Message: message}
}

// --- Liveness ---

// Ping issues a bounded GET to the server's liveness path and reports
// whether the server answered with the exact success literal. A non-matching
// body yields (false, nil); only transport-level failures (timeout,
// connection refused) return an error. The default timeout is
// DefaultPingTimeout.
func (c *Client) Ping(ctx context.Context, timeout ...time.Duration) (bool, error) {
	d := DefaultPingTimeout
	if len(timeout) > 0 {
		d = timeout[0]
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	u := *c.cfg.baseURL
	u.Path = pingPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, err
	}
	c.applyHeaders(req, nil)

	resp, err := c.cfg.httpClient.Do(req)
	if err != nil {
		c.cfg.logger.Error().Err(err).Str("op", "ping").Msg("clickhouse ping failed")
		return false, &TransportError{Op: "ping", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, &TransportError{Op: "ping", Err: err}
	}

	return bytes.Equal(body, []byte(pingSuccessBody)), nil
}

// --- Convenience ---

// ServerVersion reports the server's version string via the query pipeline.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	type row struct {
		Version string `json:"version"`
	}
	rows, err := Query[row](ctx, c, "SELECT version() AS version", nil)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", &DecodeError{Err: fmt.Errorf("version query returned no rows")}
	}
	return rows[0].Version, nil
}
