package clickhouse

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }
func boolPtr(v bool) *bool    { return &v }
func strPtr(v string) *string { return &v }

func TestGenerateQueryParameters(t *testing.T) {
	s := &QuerySettings{
		MaxRowsToRead:    int64Ptr(1000000),
		MaxExecutionTime: intPtr(30),
		WaitEndOfQuery:   boolPtr(true),
	}

	values, err := url.ParseQuery(generateQueryParameters(s))
	require.NoError(t, err)

	assert.Equal(t, "1000000", values.Get("max_rows_to_read"))
	assert.Equal(t, "30", values.Get("max_execution_time"))
	assert.Equal(t, "true", values.Get("wait_end_of_query"))
	assert.False(t, values.Has("max_result_rows"))
	assert.False(t, values.Has("readonly"))
}

func TestGenerateQueryParameters_AllFields(t *testing.T) {
	s := &QuerySettings{
		MaxRowsToRead:             int64Ptr(1),
		MaxResultRows:             int64Ptr(2),
		MaxResultBytes:            int64Ptr(3),
		MaxExecutionTime:          intPtr(4),
		MaxBlockSize:              int64Ptr(5),
		Readonly:                  intPtr(1),
		WaitEndOfQuery:            boolPtr(false),
		SendProgressInHTTPHeaders: boolPtr(true),
		ResultOverflowMode:        strPtr("break"),
	}

	values, err := url.ParseQuery(generateQueryParameters(s))
	require.NoError(t, err)
	assert.Len(t, values, 9)
	assert.Equal(t, "break", values.Get("result_overflow_mode"))
	assert.Equal(t, "false", values.Get("wait_end_of_query"))
}

func TestGenerateQueryParameters_Empty(t *testing.T) {
	assert.Empty(t, generateQueryParameters(&QuerySettings{}))
	assert.Empty(t, generateQueryParameters((*QuerySettings)(nil)))
}

func TestWithQuerySettings_MergesIntoRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://localhost:8123/?database=default", nil)
	require.NoError(t, err)

	WithQuerySettings(&QuerySettings{Readonly: intPtr(1)})(req)

	q := req.URL.Query()
	assert.Equal(t, "default", q.Get("database"))
	assert.Equal(t, "1", q.Get("readonly"))
}

func TestWithQuerySettings_EmptyRawQuery(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://localhost:8123/", nil)
	require.NoError(t, err)

	WithQuerySettings(&QuerySettings{MaxExecutionTime: intPtr(10)})(req)
	assert.Equal(t, "max_execution_time=10", req.URL.RawQuery)
}

func TestWithQuerySettings_NoSettingsNoChange(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://localhost:8123/?database=default", nil)
	require.NoError(t, err)

	WithQuerySettings(&QuerySettings{})(req)
	assert.Equal(t, "database=default", req.URL.RawQuery)
}
