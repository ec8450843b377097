// Package clickhouse provides a Go client library for the ClickHouse HTTP
// query interface.
//
// The client issues SQL over HTTP, streams result rows without buffering
// the whole response, and pushes JSON-encoded rows into tables. A
// database/sql driver built on the same pipeline is registered under the
// name "clickhouse".
//
// # Getting Started
//
// Create a client and run a query:
//
//	client := clickhouse.NewClient(clickhouse.Options{
//	    Host:     "ch.example.com",
//	    Username: "default",
//	    Database: "analytics",
//	})
//
//	type Visit struct {
//	    ID  uint64 `json:"id"`
//	    URL string `json:"url"`
//	}
//
//	visits, err := clickhouse.Query[Visit](ctx, client,
//	    "SELECT id, url FROM visits LIMIT 100", nil)
//
// # Streaming
//
// Large result sets should be consumed row by row. QueryEach decodes each
// element of the server's data array as soon as it arrives and hands it to
// the handler, keeping memory bounded by a single row:
//
//	err := clickhouse.QueryEach(ctx, client,
//	    "SELECT id, url FROM visits", nil,
//	    func(v Visit) error {
//	        process(v)
//	        return nil
//	    })
//
// Query is a thin accumulator over the same stream; for a given statement
// the two deliver identical rows in identical order.
//
// # Parameters
//
// Statements may contain {name:Type} placeholders bound through Parameters:
//
//	rows, err := clickhouse.Query[Visit](ctx, client,
//	    "SELECT * FROM visits WHERE id = {id:UInt64}",
//	    clickhouse.Parameters{"id": 42})
//
// Values are forwarded verbatim; the server coerces them against the
// declared placeholder type.
//
// # Inserts
//
// Insert writes a batch of records as newline-delimited JSON:
//
//	err := clickhouse.Insert(ctx, client, "visits", []Visit{
//	    {ID: 1, URL: "/"},
//	})
//
// # Compression
//
// Set Options.Compression to negotiate gzip, deflate or brotli response
// compression; the client inflates the stream transparently.
package clickhouse
