package clickhouse

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// The database/sql driver surfaces ClickHouse composite columns (Array, Map,
// Tuple, JSON) as JSON strings. The nullable wrappers below scan those
// strings back into Go values.

// NullSlice is a nullable JSON array implementing sql.Scanner and
// driver.Valuer. Use it to scan Array columns into Go slices.
//
//	var tags NullSlice[string]
//	err := row.Scan(&tags)
type NullSlice[T any] struct {
	Slice []T
	Valid bool // Valid is true if the value is not NULL
}

var _ sql.Scanner = (*NullSlice[any])(nil)
var _ driver.Valuer = (*NullSlice[any])(nil)

// Scan implements sql.Scanner. It expects a JSON string or []byte.
func (s *NullSlice[T]) Scan(src any) error {
	if src == nil {
		s.Slice = nil
		s.Valid = false
		return nil
	}

	data, err := jsonSource(src, "NullSlice")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &s.Slice); err != nil {
		return fmt.Errorf("clickhouse: cannot unmarshal array: %w", err)
	}
	s.Valid = true
	return nil
}

// Value implements driver.Valuer.
func (s NullSlice[T]) Value() (driver.Value, error) {
	if !s.Valid {
		return nil, nil
	}
	return jsonValue(s.Slice)
}

// NullMap is a nullable JSON object implementing sql.Scanner and
// driver.Valuer. Use it to scan Map columns into Go maps.
//
//	var props NullMap[string, int]
//	err := row.Scan(&props)
type NullMap[K comparable, V any] struct {
	Map   map[K]V
	Valid bool // Valid is true if the value is not NULL
}

var _ sql.Scanner = (*NullMap[string, any])(nil)
var _ driver.Valuer = (*NullMap[string, any])(nil)

// Scan implements sql.Scanner. It expects a JSON string or []byte.
func (m *NullMap[K, V]) Scan(src any) error {
	if src == nil {
		m.Map = nil
		m.Valid = false
		return nil
	}

	data, err := jsonSource(src, "NullMap")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &m.Map); err != nil {
		return fmt.Errorf("clickhouse: cannot unmarshal map: %w", err)
	}
	m.Valid = true
	return nil
}

// Value implements driver.Valuer.
func (m NullMap[K, V]) Value() (driver.Value, error) {
	if !m.Valid {
		return nil, nil
	}
	return jsonValue(m.Map)
}

// NullRow is a nullable JSON object implementing sql.Scanner and
// driver.Valuer. Use it to scan Tuple or JSON columns into structs or maps.
//
//	type Point struct {
//	    X float64 `json:"x"`
//	    Y float64 `json:"y"`
//	}
//	var p NullRow[Point]
//	err := row.Scan(&p)
type NullRow[T any] struct {
	Row   T
	Valid bool // Valid is true if the value is not NULL
}

var _ sql.Scanner = (*NullRow[any])(nil)
var _ driver.Valuer = (*NullRow[any])(nil)

// Scan implements sql.Scanner. It expects a JSON string or []byte.
func (r *NullRow[T]) Scan(src any) error {
	if src == nil {
		var zero T
		r.Row = zero
		r.Valid = false
		return nil
	}

	data, err := jsonSource(src, "NullRow")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &r.Row); err != nil {
		return fmt.Errorf("clickhouse: cannot unmarshal tuple: %w", err)
	}
	r.Valid = true
	return nil
}

// Value implements driver.Valuer.
func (r NullRow[T]) Value() (driver.Value, error) {
	if !r.Valid {
		return nil, nil
	}
	return jsonValue(r.Row)
}

// jsonSource coerces a driver-provided value into JSON bytes.
func jsonSource(src any, target string) ([]byte, error) {
	switch v := src.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("clickhouse: cannot scan %T into %s", src, target)
	}
}

// jsonValue marshals v into the JSON string form the driver interpolates.
func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
