package clickhouse

import (
	"context"
	"encoding/json"
	"errors"
	"io"
)

// RowHandler receives one decoded row. Returning a non-nil error stops the
// stream; the error is passed through to the caller unchanged.
type RowHandler[T any] func(row T) error

// QueryEach executes a SQL statement and pushes each result row to fn as
// soon as it is decoded, in server order, without materializing the full
// response. It returns nil exactly when the stream completed cleanly after
// the last row; completion and failure are mutually exclusive, and no row is
// ever delivered after a failure.
//
// Example:
//
//	err := clickhouse.QueryEach(ctx, client,
//	    "SELECT id, name FROM visits WHERE id > {min:UInt64}",
//	    clickhouse.Parameters{"min": 100},
//	    func(v Visit) error {
//	        process(v)
//	        return nil
//	    })
func QueryEach[T any](ctx context.Context, c *Client, statement string, params Parameters, fn RowHandler[T], opts ...RequestOption) error {
	return c.queryRaw(ctx, statement, params, nil, func(raw json.RawMessage) error {
		var row T
		if err := json.Unmarshal(raw, &row); err != nil {
			return &DecodeError{Err: err}
		}
		return fn(row)
	}, opts...)
}

// Query executes a SQL statement and collects every row into an ordered
// slice. It is a thin accumulator over QueryEach: the result equals the
// ordered concatenation of everything QueryEach would have delivered for an
// identical statement.
//
// Example:
//
//	visits, err := clickhouse.Query[Visit](ctx, client,
//	    "SELECT * FROM visits LIMIT 10", nil)
func Query[T any](ctx context.Context, c *Client, statement string, params Parameters, opts ...RequestOption) ([]T, error) {
	var rows []T
	err := QueryEach(ctx, c, statement, params, func(row T) error {
		rows = append(rows, row)
		return nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Exec executes a statement on the raw, unformatted path: no FORMAT
// directive is appended and the response body is drained and discarded.
// Use it for DDL and other statements that produce no result set.
func (c *Client) Exec(ctx context.Context, statement string, params Parameters, opts ...RequestOption) error {
	req, err := c.newQueryRequest(ctx, statement, params, true, opts...)
	if err != nil {
		return err
	}

	resp, err := c.do("exec", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// queryRaw runs the full query pipeline: request construction, execution,
// decompression, and the streaming envelope decode. Meta and row callbacks
// fire in stream order. Decode-level failures are logged once here; handler
// errors pass through silently since the handler already saw them.
func (c *Client) queryRaw(ctx context.Context, statement string, params Parameters, onMeta func([]Column) error, onRow func(json.RawMessage) error, opts ...RequestOption) error {
	if !decodableFormats[c.cfg.format] {
		return &UnsupportedFormatError{Format: c.cfg.format}
	}

	req, err := c.newQueryRequest(ctx, statement, params, false, opts...)
	if err != nil {
		return err
	}

	resp, err := c.do("query", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := contentReader(resp)
	if err != nil {
		c.cfg.logger.Error().Err(err).Str("op", "query").Msg("clickhouse response unreadable")
		return err
	}
	defer body.Close()

	if err := decodeEnvelope(body, onMeta, onRow); err != nil {
		var decodeErr *DecodeError
		var serverErr *ServerError
		if errors.As(err, &decodeErr) || errors.As(err, &serverErr) {
			c.cfg.logger.Error().Err(err).Str("op", "query").Msg("clickhouse result stream failed")
		}
		return err
	}
	return nil
}
