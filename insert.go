package clickhouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Insert serializes rows as newline-delimited JSON objects and writes them
// to table in a single request. It returns nil only when the server accepted
// the whole batch; a rejected batch surfaces as a ServerError or
// TransportError, never as a silent partial write. No row values are ever
// produced on success, only completion.
//
// Example:
//
//	err := clickhouse.Insert(ctx, client, "visits", []Visit{
//	    {ID: 1, URL: "/"},
//	    {ID: 2, URL: "/pricing"},
//	})
func Insert[T any](ctx context.Context, c *Client, table string, rows []T, opts ...RequestOption) error {
	if strings.TrimSpace(table) == "" {
		return &InvalidArgumentError{Reason: "table required"}
	}
	if len(rows) == 0 {
		return &InvalidArgumentError{Reason: "rows required"}
	}

	// json.Encoder terminates each value with '\n', which is exactly the
	// JSONEachRow framing.
	var batch bytes.Buffer
	enc := json.NewEncoder(&batch)
	for i, row := range rows {
		if err := enc.Encode(row); err != nil {
			return &InvalidArgumentError{Reason: fmt.Sprintf("row %d is not serializable: %v", i, err)}
		}
	}

	req, err := c.newInsertRequest(ctx, table, &batch, opts...)
	if err != nil {
		return err
	}

	resp, err := c.do("insert", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// The success body is expected to be empty. Drain it regardless so the
	// connection is released; if the server did send something, keep the
	// anomaly visible without failing the insert.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &DecodeError{Err: err}
	}
	if len(bytes.TrimSpace(body)) > 0 {
		c.cfg.logger.Warn().
			Str("op", "insert").
			Str("table", table).
			Int("bytes", len(body)).
			Msg("unexpected response body on successful insert")
	}
	return nil
}
