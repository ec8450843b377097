package clickhouse

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(serverURL string, mutate func(*Options)) *Client {
	u, _ := url.Parse(serverURL)
	port := 0
	for _, ch := range u.Port() {
		port = port*10 + int(ch-'0')
	}
	logger := zerolog.Nop()
	opts := Options{
		Host:   u.Hostname(),
		Port:   port,
		Logger: &logger,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewClient(opts)
}

// --- Segment 1: Request Construction ---

func TestNewQueryRequest_FormatDirective(t *testing.T) {
	c := testClient("http://localhost:8123", nil)

	req, err := c.newQueryRequest(context.Background(), "SELECT 1", nil, false)
	require.NoError(t, err)

	body, _ := io.ReadAll(req.Body)
	assert.Equal(t, "SELECT 1 FORMAT JSON", string(body))
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "default", req.URL.Query().Get("database"))
}

func TestNewQueryRequest_RawPathSkipsDirective(t *testing.T) {
	c := testClient("http://localhost:8123", nil)

	req, err := c.newQueryRequest(context.Background(), "CREATE TABLE t (id UInt64) ENGINE = Memory", nil, true)
	require.NoError(t, err)

	body, _ := io.ReadAll(req.Body)
	assert.NotContains(t, string(body), "FORMAT")
}

func TestNewQueryRequest_Parameters(t *testing.T) {
	c := testClient("http://localhost:8123", nil)

	req, err := c.newQueryRequest(context.Background(),
		"SELECT {p:UInt8} as num, {name:String} as name",
		Parameters{"p": 7, "name": "o'brien"}, false)
	require.NoError(t, err)

	q := req.URL.Query()
	assert.Equal(t, "7", q.Get("param_p"))
	// Values are stringified, never SQL-escaped.
	assert.Equal(t, "o'brien", q.Get("param_name"))
}

func TestNewQueryRequest_EmptyStatement(t *testing.T) {
	c := testClient("http://localhost:8123", nil)

	for _, statement := range []string{"", "   ", "\n\t"} {
		_, err := c.newQueryRequest(context.Background(), statement, nil, false)
		var invalid *InvalidArgumentError
		require.ErrorAs(t, err, &invalid, "statement %q", statement)
		assert.Equal(t, "query required", invalid.Reason)
	}
}

func TestNewQueryRequest_Credentials(t *testing.T) {
	c := testClient("http://localhost:8123", func(o *Options) {
		o.Username = "reader"
		o.Password = "secret"
	})

	req, err := c.newQueryRequest(context.Background(), "SELECT 1", nil, false)
	require.NoError(t, err)

	assert.Equal(t, "reader", req.Header.Get(UserHeader))
	assert.Equal(t, "secret", req.Header.Get(KeyHeader))
}

func TestNewQueryRequest_NoKeyHeaderWithoutPassword(t *testing.T) {
	c := testClient("http://localhost:8123", nil)

	req, err := c.newQueryRequest(context.Background(), "SELECT 1", nil, false)
	require.NoError(t, err)

	_, present := req.Header[KeyHeader]
	assert.False(t, present)
}

func TestNewQueryRequest_CompressionNegotiation(t *testing.T) {
	tests := []struct {
		method   Compression
		encoding string
	}{
		{CompressionGzip, "gzip"},
		{CompressionDeflate, "deflate"},
		{CompressionBrotli, "br"},
	}

	for _, tt := range tests {
		c := testClient("http://localhost:8123", func(o *Options) {
			o.Compression = tt.method
		})
		req, err := c.newQueryRequest(context.Background(), "SELECT 1", nil, false)
		require.NoError(t, err)

		assert.Equal(t, tt.encoding, req.Header.Get("Accept-Encoding"))
		assert.Equal(t, "1", req.URL.Query().Get("enable_http_compression"))
	}
}

func TestNewQueryRequest_NoCompressionFlagWhenDisabled(t *testing.T) {
	c := testClient("http://localhost:8123", nil)

	req, err := c.newQueryRequest(context.Background(), "SELECT 1", nil, false)
	require.NoError(t, err)

	assert.Empty(t, req.Header.Get("Accept-Encoding"))
	assert.False(t, req.URL.Query().Has("enable_http_compression"))
}

func TestNewQueryRequest_RequestOptions(t *testing.T) {
	c := testClient("http://localhost:8123", func(o *Options) {
		o.RequestOptions = []RequestOption{func(req *http.Request) {
			req.Header.Set("X-Trace-Id", "abc")
		}}
	})

	req, err := c.newQueryRequest(context.Background(), "SELECT 1", nil, false, func(req *http.Request) {
		req.Header.Set("X-Span-Id", "def")
	})
	require.NoError(t, err)

	assert.Equal(t, "abc", req.Header.Get("X-Trace-Id"))
	assert.Equal(t, "def", req.Header.Get("X-Span-Id"))
}

func TestNewInsertRequest_StatementInQueryString(t *testing.T) {
	c := testClient("http://localhost:8123", nil)

	req, err := c.newInsertRequest(context.Background(), "visits", strings.NewReader(`{"id":1}`+"\n"))
	require.NoError(t, err)

	assert.Equal(t, "INSERT INTO visits FORMAT JSONEachRow", req.URL.Query().Get("query"))
	body, _ := io.ReadAll(req.Body)
	assert.Equal(t, `{"id":1}`+"\n", string(body))
}

// --- Segment 2: Validation Happens Before Any Network Call ---

func TestInvalidArguments_NoNetworkCall(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	c := testClient(server.URL, nil)
	ctx := context.Background()

	_, err := Query[map[string]any](ctx, c, "", nil)
	assert.ErrorAs(t, err, new(*InvalidArgumentError))

	_, err = Query[map[string]any](ctx, c, "   ", nil)
	assert.ErrorAs(t, err, new(*InvalidArgumentError))

	err = Insert(ctx, c, "", []map[string]any{{"id": 1}})
	assert.ErrorAs(t, err, new(*InvalidArgumentError))

	err = Insert(ctx, c, "visits", []map[string]any{})
	assert.ErrorAs(t, err, new(*InvalidArgumentError))

	assert.Equal(t, int64(0), calls.Load())
}

func TestUnsupportedFormat_NoNetworkCall(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	c := testClient(server.URL, func(o *Options) {
		o.Format = Format("TabSeparated")
	})

	_, err := Query[map[string]any](context.Background(), c, "SELECT 1", nil)
	var unsupported *UnsupportedFormatError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, Format("TabSeparated"), unsupported.Format)
	assert.Equal(t, int64(0), calls.Load())
}

// --- Segment 3: Error Extraction ---

func TestDo_ServerErrorDrainedAndTrimmed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, "Code: 62, e.displayText() = DB::Exception: Syntax error\n")
	}))
	defer server.Close()

	c := testClient(server.URL, nil)

	_, err := Query[map[string]any](context.Background(), c, "SELEC 1", nil)
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusBadRequest, serverErr.StatusCode)
	assert.Equal(t, "Code: 62, e.displayText() = DB::Exception: Syntax error", serverErr.Message)
}

func TestDo_TransportErrorPreservesCause(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	c := testClient(server.URL, nil)

	_, err := Query[map[string]any](context.Background(), c, "SELECT 1", nil)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "query", transportErr.Op)
	assert.Error(t, transportErr.Err)
}

// --- Segment 4: Liveness ---

func TestPing_ExactLiteral(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"exact literal", "Ok.\n", true},
		{"missing newline", "Ok.", false},
		{"lowercase", "ok.\n", false},
		{"trailing garbage", "Ok.\nextra", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			ok, err := testClient(server.URL, nil).Ping(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestPing_UsesPingPath(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		io.WriteString(w, "Ok.\n")
	}))
	defer server.Close()

	_, err := testClient(server.URL, nil).Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/ping", path)
}

func TestPing_TimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	ok, err := testClient(server.URL, nil).Ping(context.Background(), 20*time.Millisecond)
	assert.False(t, ok)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "ping", transportErr.Op)
}

func TestPing_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	ok, err := testClient(server.URL, nil).Ping(context.Background())
	assert.False(t, ok)
	assert.ErrorAs(t, err, new(*TransportError))
}
