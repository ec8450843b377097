package clickhouse

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{
			&InvalidArgumentError{Reason: "query required"},
			"clickhouse: invalid argument: query required",
		},
		{
			&UnsupportedFormatError{Format: Format("TabSeparated")},
			`clickhouse: no decoder for format "TabSeparated"`,
		},
		{
			&ServerError{StatusCode: 400, Message: "Code: 62. DB::Exception: Syntax error"},
			"clickhouse: server error (status 400): Code: 62. DB::Exception: Syntax error",
		},
		{
			&TransportError{Op: "ping", Err: errors.New("connection refused")},
			"clickhouse: ping request failed: connection refused",
		},
		{
			&DecodeError{Err: errors.New("unexpected EOF")},
			"clickhouse: decoding response failed: unexpected EOF",
		},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := fmt.Errorf("outer: %w", &TransportError{Op: "query", Err: cause})

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "query", transportErr.Op)
	assert.ErrorIs(t, err, cause)
}

func TestDecodeError_Unwrap(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := &DecodeError{Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorTypesAreDistinct(t *testing.T) {
	var err error = &ServerError{StatusCode: 500, Message: "boom"}

	assert.ErrorAs(t, err, new(*ServerError))
	assert.False(t, errors.As(err, new(*TransportError)))
	assert.False(t, errors.As(err, new(*DecodeError)))
}
