package clickhouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullSlice_Scan(t *testing.T) {
	var tags NullSlice[string]

	require.NoError(t, tags.Scan(`["a","b","c"]`))
	assert.True(t, tags.Valid)
	assert.Equal(t, []string{"a", "b", "c"}, tags.Slice)

	require.NoError(t, tags.Scan(nil))
	assert.False(t, tags.Valid)
	assert.Nil(t, tags.Slice)

	var nums NullSlice[int64]
	require.NoError(t, nums.Scan([]byte(`[1,2,3]`)))
	assert.Equal(t, []int64{1, 2, 3}, nums.Slice)

	assert.Error(t, nums.Scan(42))
	assert.Error(t, nums.Scan(`not json`))
}

func TestNullSlice_Value(t *testing.T) {
	v, err := NullSlice[string]{Slice: []string{"x"}, Valid: true}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["x"]`, v)

	v, err = NullSlice[string]{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestNullMap_Scan(t *testing.T) {
	var counts NullMap[string, int64]

	require.NoError(t, counts.Scan(`{"a":1,"b":2}`))
	assert.True(t, counts.Valid)
	assert.Equal(t, map[string]int64{"a": 1, "b": 2}, counts.Map)

	require.NoError(t, counts.Scan(nil))
	assert.False(t, counts.Valid)
	assert.Nil(t, counts.Map)

	assert.Error(t, counts.Scan(`[1,2]`))
}

func TestNullMap_Value(t *testing.T) {
	v, err := NullMap[string, int]{Map: map[string]int{"k": 9}, Valid: true}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":9}`, v.(string))

	v, err = NullMap[string, int]{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestNullRow_Scan(t *testing.T) {
	type point struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	var p NullRow[point]
	require.NoError(t, p.Scan(`{"x":1.5,"y":-2}`))
	assert.True(t, p.Valid)
	assert.Equal(t, point{X: 1.5, Y: -2}, p.Row)

	require.NoError(t, p.Scan(nil))
	assert.False(t, p.Valid)
	assert.Equal(t, point{}, p.Row)
}

func TestNullRow_Value(t *testing.T) {
	type point struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	v, err := NullRow[point]{Row: point{X: 1, Y: 2}, Valid: true}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1,"y":2}`, v.(string))

	v, err = NullRow[point]{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}
