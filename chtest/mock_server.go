// Package chtest provides a mock ClickHouse HTTP server for integration
// testing the clickhouse-client library without a real database.
package chtest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	clickhouse "github.com/depyronick/clickhouse-client"
)

// MockQueryTemplate defines the canned response for a specific statement.
// The statement is matched without its trailing FORMAT directive, so the
// same template serves JSON and JSONCompact requests.
type MockQueryTemplate struct {
	// SQL is the statement to match, without a FORMAT directive.
	SQL string

	// Columns describes the result set; emitted as the envelope meta.
	Columns []clickhouse.Column

	// Rows holds the result rows keyed by column name. For JSONCompact
	// requests the server re-encodes them as arrays in Columns order.
	Rows []map[string]any

	// Exception, when set, is emitted as a top-level "exception" field in
	// an otherwise successful envelope, simulating a failure the server
	// detected after the 200 status line was already sent.
	Exception string

	// StatusCode and ErrorBody, when StatusCode is non-zero, produce an
	// HTTP-level error response instead of an envelope.
	StatusCode int
	ErrorBody  string

	// Latency delays the response.
	Latency time.Duration
}

// RecordedRequest captures one request for test assertions.
type RecordedRequest struct {
	Query  url.Values
	Header http.Header
	Body   string
}

// MockClickHouseServer simulates the ClickHouse HTTP interface: POST / for
// statements and inserts, GET /ping for liveness.
type MockClickHouseServer struct {
	server *httptest.Server

	mu        sync.RWMutex
	templates map[string]*MockQueryTemplate
	inserts   map[string][]json.RawMessage
	requests  []RecordedRequest
	pingBody  string
}

// NewMockClickHouseServer starts a mock server with a healthy /ping.
func NewMockClickHouseServer() *MockClickHouseServer {
	mock := &MockClickHouseServer{
		templates: make(map[string]*MockQueryTemplate),
		inserts:   make(map[string][]json.RawMessage),
		pingBody:  "Ok.\n",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", mock.handlePing)
	mux.HandleFunc("POST /", mock.handleStatement)

	mock.server = httptest.NewServer(mux)
	return mock
}

// AddQuery registers a statement template.
func (m *MockClickHouseServer) AddQuery(tmpl *MockQueryTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[tmpl.SQL] = tmpl
}

// SetPingBody overrides the /ping response body.
func (m *MockClickHouseServer) SetPingBody(body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingBody = body
}

// Inserts returns the raw JSONEachRow records captured for a table.
func (m *MockClickHouseServer) Inserts(table string) []json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := make([]json.RawMessage, len(m.inserts[table]))
	copy(rows, m.inserts[table])
	return rows
}

// LastRequest returns the most recently handled statement request.
func (m *MockClickHouseServer) LastRequest() (RecordedRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requests) == 0 {
		return RecordedRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// URL returns the base URL of the mock server.
func (m *MockClickHouseServer) URL() string { return m.server.URL }

// Host and Port return the listener address parts, for building Options.
func (m *MockClickHouseServer) Host() string {
	u, _ := url.Parse(m.server.URL)
	return u.Hostname()
}

func (m *MockClickHouseServer) Port() int {
	u, _ := url.Parse(m.server.URL)
	port := 0
	for _, ch := range u.Port() {
		port = port*10 + int(ch-'0')
	}
	return port
}

// Close shuts down the mock server.
func (m *MockClickHouseServer) Close() { m.server.Close() }

// --- Handlers ---

func (m *MockClickHouseServer) handlePing(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	body := m.pingBody
	m.mu.RUnlock()
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, body)
}

func (m *MockClickHouseServer) handleStatement(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   string(body),
	})
	m.mu.Unlock()

	// Inserts carry the statement in the query string and records in the body.
	if stmt := r.URL.Query().Get("query"); stmt != "" {
		m.handleInsert(w, stmt, body)
		return
	}

	statement, format := splitFormat(string(body))

	m.mu.RLock()
	tmpl, exists := m.templates[statement]
	m.mu.RUnlock()

	if !exists {
		http.Error(w, "Code: 62. DB::Exception: Syntax error: unknown statement: "+statement, http.StatusNotFound)
		return
	}

	if tmpl.Latency > 0 {
		time.Sleep(tmpl.Latency)
	}

	if tmpl.StatusCode != 0 {
		http.Error(w, tmpl.ErrorBody, tmpl.StatusCode)
		return
	}

	m.sendEnvelope(w, r, tmpl, format)
}

// handleInsert parses "INSERT INTO <table> FORMAT JSONEachRow" and records
// each body line for later inspection.
func (m *MockClickHouseServer) handleInsert(w http.ResponseWriter, stmt string, body []byte) {
	fields := strings.Fields(stmt)
	if len(fields) < 3 || !strings.EqualFold(fields[0], "INSERT") || !strings.EqualFold(fields[1], "INTO") {
		http.Error(w, "Code: 62. DB::Exception: Syntax error: expected INSERT INTO", http.StatusBadRequest)
		return
	}
	table := fields[2]

	var rows []json.RawMessage
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			http.Error(w, "Code: 27. DB::Exception: Cannot parse input: expected JSON object", http.StatusBadRequest)
			return
		}
		rows = append(rows, json.RawMessage(bytes.Clone(line)))
	}

	m.mu.Lock()
	m.inserts[table] = append(m.inserts[table], rows...)
	m.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

// --- Envelope Encoding ---

// envelope mirrors the ClickHouse JSON result envelope. Field order matters
// for the streaming decoder tests: meta precedes data.
type envelope struct {
	Meta       []clickhouse.Column `json:"meta"`
	Data       []any               `json:"data"`
	Rows       int                 `json:"rows"`
	Statistics map[string]any      `json:"statistics"`
	Exception  *string             `json:"exception,omitempty"`
}

func (m *MockClickHouseServer) sendEnvelope(w http.ResponseWriter, r *http.Request, tmpl *MockQueryTemplate, format string) {
	env := envelope{
		Meta: tmpl.Columns,
		Data: make([]any, 0, len(tmpl.Rows)),
		Rows: len(tmpl.Rows),
		Statistics: map[string]any{
			"elapsed":    0.001,
			"rows_read":  len(tmpl.Rows),
			"bytes_read": 0,
		},
	}
	for _, row := range tmpl.Rows {
		if strings.EqualFold(format, string(clickhouse.FormatJSONCompact)) {
			compact := make([]any, len(tmpl.Columns))
			for i, col := range tmpl.Columns {
				compact[i] = row[col.Name]
			}
			env.Data = append(env.Data, compact)
		} else {
			env.Data = append(env.Data, row)
		}
	}
	if tmpl.Exception != "" {
		env.Exception = &tmpl.Exception
	}

	payload, _ := json.Marshal(env)

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")

	if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") &&
		r.URL.Query().Get("enable_http_compression") == "1" {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write(payload)
		_ = gz.Close()
		return
	}

	_, _ = w.Write(payload)
}

// splitFormat separates a statement from its trailing FORMAT directive.
func splitFormat(statement string) (string, string) {
	idx := strings.LastIndex(statement, " FORMAT ")
	if idx < 0 {
		return statement, ""
	}
	return statement[:idx], strings.TrimSpace(statement[idx+len(" FORMAT "):])
}
