package clickhouse

import (
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
)

// QuerySettings holds per-call server settings that travel as URL query
// parameters. Nil pointer fields are omitted. See the ClickHouse settings
// reference for semantics; the client forwards them without interpretation.
type QuerySettings struct {
	MaxRowsToRead             *int64  `query:"max_rows_to_read"`
	MaxResultRows             *int64  `query:"max_result_rows"`
	MaxResultBytes            *int64  `query:"max_result_bytes"`
	MaxExecutionTime          *int    `query:"max_execution_time"`
	MaxBlockSize              *int64  `query:"max_block_size"`
	Readonly                  *int    `query:"readonly"`
	WaitEndOfQuery            *bool   `query:"wait_end_of_query"`
	SendProgressInHTTPHeaders *bool   `query:"send_progress_in_http_headers"`
	ResultOverflowMode        *string `query:"result_overflow_mode"`
}

// WithQuerySettings returns a RequestOption that merges the settings into
// the request's query string.
func WithQuerySettings(s *QuerySettings) RequestOption {
	return func(req *http.Request) {
		params := generateQueryParameters(s)
		if params == "" {
			return
		}
		if req.URL.RawQuery == "" {
			req.URL.RawQuery = params
		} else {
			req.URL.RawQuery += "&" + params
		}
	}
}

// generateQueryParameters converts a struct with `query` tags into a URL
// query string. Nil pointer fields are skipped.
func generateQueryParameters(v any) string {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return ""
	}
	queryBuilder := strings.Builder{}
	vt := rv.Type()
	for i := range vt.NumField() {
		fv, ft := rv.Field(i), vt.Field(i)
		// Dereference pointers; skip nil
		for fv.Kind() == reflect.Pointer || fv.Kind() == reflect.Interface {
			if fv.IsNil() {
				break
			}
			fv = fv.Elem()
		}
		if !fv.IsValid() || !fv.CanInterface() {
			continue
		}
		// Skip nil pointer fields
		if rv.Field(i).Kind() == reflect.Pointer && rv.Field(i).IsNil() {
			continue
		}
		if tag := ft.Tag.Get("query"); tag != "" {
			if queryBuilder.Len() > 0 {
				queryBuilder.WriteString("&")
			}
			queryBuilder.WriteString(fmt.Sprintf("%s=%s", url.QueryEscape(tag), url.QueryEscape(fmt.Sprint(fv.Interface()))))
		}
	}
	return queryBuilder.String()
}
