package clickhouse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// decodableFormats lists the result formats this client can stream-decode.
// Both share the same JSON envelope; they differ only in row encoding.
var decodableFormats = map[Format]bool{
	FormatJSON:        true,
	FormatJSONCompact: true,
}

// brotliReader adapts the brotli decompressor to io.ReadCloser.
type brotliReader struct {
	io.Reader
}

func (brotliReader) Close() error { return nil }

// contentReader wraps the response body in the decompression stage matching
// its Content-Encoding. The transport never decompresses for us: it only
// does so for gzip when it chose the Accept-Encoding header itself, and the
// builder always sets that header explicitly when compression is negotiated.
func contentReader(resp *http.Response) (io.ReadCloser, error) {
	encoding := resp.Header.Get("Content-Encoding")
	if encoding == "" {
		return io.NopCloser(resp.Body), nil
	}

	method, ok := compressionEncodings.RLookup(encoding)
	if !ok {
		return nil, &DecodeError{Err: fmt.Errorf("unexpected content encoding %q", encoding)}
	}

	switch method {
	case CompressionGzip:
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, &DecodeError{Err: err}
		}
		return gz, nil
	case CompressionDeflate:
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, &DecodeError{Err: err}
		}
		return zr, nil
	default:
		return brotliReader{brotli.NewReader(resp.Body)}, nil
	}
}

// decodeEnvelope incrementally tokenizes a ClickHouse JSON result envelope
//
//	{"meta":[...],"data":[<row>,<row>,...],"statistics":{...},...}
//
// and emits each element of the "data" array to onRow as soon as it is
// fully parsed. Memory stays bounded by one row: every other top-level
// field except "meta" (delivered to onMeta when present) is skipped token
// by token, never buffered. A top-level "exception" field terminates the
// stream with a ServerError; malformed or truncated content terminates it
// with a DecodeError. The stream completes only once every byte the server
// sent has been consumed.
func decodeEnvelope(r io.Reader, onMeta func([]Column) error, onRow func(json.RawMessage) error) error {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return &DecodeError{Err: err}
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return &DecodeError{Err: fmt.Errorf("expected envelope object, got %v", tok)}
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return &DecodeError{Err: err}
		}
		key, _ := tok.(string)

		switch key {
		case "data":
			if err := decodeDataArray(dec, onRow); err != nil {
				return err
			}
		case "meta":
			var cols []Column
			if err := dec.Decode(&cols); err != nil {
				return &DecodeError{Err: err}
			}
			if onMeta != nil {
				if err := onMeta(cols); err != nil {
					return err
				}
			}
		case "exception":
			var message string
			if err := dec.Decode(&message); err != nil {
				return &DecodeError{Err: err}
			}
			return &ServerError{StatusCode: http.StatusOK, Message: strings.TrimSpace(message)}
		default:
			if err := skipValue(dec); err != nil {
				return err
			}
		}
	}

	// Closing brace of the envelope.
	if _, err := dec.Token(); err != nil {
		return &DecodeError{Err: err}
	}

	// Consume any trailing bytes so the connection can be reused.
	if _, err := io.Copy(io.Discard, r); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// decodeDataArray streams the elements of the "data" array, one complete
// row at a time, in server order.
func decodeDataArray(dec *json.Decoder, onRow func(json.RawMessage) error) error {
	tok, err := dec.Token()
	if err != nil {
		return &DecodeError{Err: err}
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return &DecodeError{Err: fmt.Errorf("expected data array, got %v", tok)}
	}

	for dec.More() {
		var row json.RawMessage
		if err := dec.Decode(&row); err != nil {
			return &DecodeError{Err: err}
		}
		if onRow != nil {
			if err := onRow(row); err != nil {
				return err
			}
		}
	}

	// Closing bracket.
	if _, err := dec.Token(); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// skipValue consumes one JSON value, of any nesting depth, without
// materializing it.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return &DecodeError{Err: err}
	}
	d, ok := tok.(json.Delim)
	if !ok || (d != '{' && d != '[') {
		return nil
	}

	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return &DecodeError{Err: err}
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
