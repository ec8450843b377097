package clickhouse

// Column describes one result column, as reported by the envelope's "meta"
// field.
type Column struct {
	// Name is the column name.
	Name string `json:"name"`

	// Type is the ClickHouse data type as a string, e.g. "UInt64",
	// "Nullable(String)", "Array(Int32)".
	Type string `json:"type"`
}
