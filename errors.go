package clickhouse

import (
	"fmt"
)

// InvalidArgumentError reports a caller mistake detected before any network
// I/O: an empty statement, a missing table name, or an empty record batch.
// It is never retried and never reaches the server.
type InvalidArgumentError struct {
	// Reason is a short description of the rejected argument.
	Reason string
}

// Error implements the error interface.
func (e *InvalidArgumentError) Error() string {
	return "clickhouse: invalid argument: " + e.Reason
}

// UnsupportedFormatError reports that the configured result format has no
// decoder. Like InvalidArgumentError it is raised synchronously, before any
// request is issued.
type UnsupportedFormatError struct {
	Format Format
}

// Error implements the error interface.
func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("clickhouse: no decoder for format %q", e.Format)
}

// ServerError is a non-2xx HTTP response from the server, or an exception the
// server emitted inside an otherwise successful response stream. Message is
// the fully drained, trimmed error body.
type ServerError struct {
	// StatusCode is the HTTP status of the failed response. Exceptions
	// delivered mid-stream carry the 200 the response started with.
	StatusCode int

	// Message is the trimmed error text from the server.
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("clickhouse: server error (status %d): %s", e.StatusCode, e.Message)
}

// TransportError is a network-level failure with no server response:
// connection refused, DNS failure, timeout. The underlying failure is
// preserved and reachable through errors.Unwrap.
type TransportError struct {
	// Op names the operation that failed, e.g. "query" or "ping".
	Op string

	// Err is the underlying transport failure.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("clickhouse: %s request failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying transport failure.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError reports malformed or truncated content in a result stream. It
// terminates the stream; a truncated stream is never silently treated as a
// complete one.
type DecodeError struct {
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("clickhouse: decoding response failed: %v", e.Err)
}

// Unwrap returns the underlying decoding failure.
func (e *DecodeError) Unwrap() error {
	return e.Err
}
