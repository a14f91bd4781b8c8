package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueText
	ValueInteger
	ValueDecimal
	ValueTimestamp
	ValueBoolean
)

func (k ValueKind) String() string {
	switch k {
	case ValueText:
		return "text"
	case ValueInteger:
		return "integer"
	case ValueDecimal:
		return "decimal"
	case ValueTimestamp:
		return "timestamp"
	case ValueBoolean:
		return "boolean"
	default:
		return "null"
	}
}

// Value is a single cell returned by a server. Exactly one payload field is
// meaningful, selected by Kind.
type Value struct {
	Kind    ValueKind
	Text    string
	Integer int64
	Decimal float64
	Time    time.Time
	Bool    bool
}

func NullValue() Value {
	return Value{Kind: ValueNull}
}

func TextValue(s string) Value {
	return Value{Kind: ValueText, Text: s}
}

func IntegerValue(i int64) Value {
	return Value{Kind: ValueInteger, Integer: i}
}

func DecimalValue(f float64) Value {
	return Value{Kind: ValueDecimal, Decimal: f}
}

func TimestampValue(t time.Time) Value {
	return Value{Kind: ValueTimestamp, Time: t}
}

func BooleanValue(b bool) Value {
	return Value{Kind: ValueBoolean, Bool: b}
}

// IsNull reports whether the value is the explicit null marker.
func (v Value) IsNull() bool {
	return v.Kind == ValueNull
}

// Float64 returns the numeric interpretation of the value. Text is parsed
// leniently; anything else that is not numeric reports false.
func (v Value) Float64() (float64, bool) {
	switch v.Kind {
	case ValueInteger:
		return float64(v.Integer), true
	case ValueDecimal:
		return v.Decimal, true
	case ValueText:
		f, err := strconv.ParseFloat(v.Text, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// String renders the value in a locale-neutral form. Null renders empty.
func (v Value) String() string {
	switch v.Kind {
	case ValueText:
		return v.Text
	case ValueInteger:
		return strconv.FormatInt(v.Integer, 10)
	case ValueDecimal:
		return strconv.FormatFloat(v.Decimal, 'f', -1, 64)
	case ValueTimestamp:
		return v.Time.Format("2006-01-02 15:04:05")
	case ValueBoolean:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}

// Native returns the Go value carried by v, nil for null.
func (v Value) Native() any {
	switch v.Kind {
	case ValueText:
		return v.Text
	case ValueInteger:
		return v.Integer
	case ValueDecimal:
		return v.Decimal
	case ValueTimestamp:
		return v.Time
	case ValueBoolean:
		return v.Bool
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Native())
}

// Row is an ordered mapping from column name to value. Column order is the
// order in which the server reported the columns.
type Row struct {
	columns []string
	values  map[string]Value
}

// NewRow builds a row from parallel column and value slices.
func NewRow(columns []string, values []Value) Row {
	row := Row{
		columns: make([]string, 0, len(columns)),
		values:  make(map[string]Value, len(columns)),
	}
	for idx, column := range columns {
		value := NullValue()
		if idx < len(values) {
			value = values[idx]
		}
		row.Set(column, value)
	}
	return row
}

// Set assigns a column, appending it to the column order when new.
func (r *Row) Set(column string, value Value) {
	if r.values == nil {
		r.values = map[string]Value{}
	}
	if _, exists := r.values[column]; !exists {
		r.columns = append(r.columns, column)
	}
	r.values[column] = value
}

// Get returns the value of a column and whether the column exists.
func (r Row) Get(column string) (Value, bool) {
	value, ok := r.values[column]
	return value, ok
}

// Columns returns the column names in order.
func (r Row) Columns() []string {
	return append([]string(nil), r.columns...)
}

// Len returns the number of columns.
func (r Row) Len() int {
	return len(r.columns)
}

// Clone returns a deep copy so callers can add columns without aliasing.
func (r Row) Clone() Row {
	clone := Row{
		columns: append([]string(nil), r.columns...),
		values:  make(map[string]Value, len(r.values)),
	}
	for key, value := range r.values {
		clone.values[key] = value
	}
	return clone
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for idx, column := range r.columns {
		if idx > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(column)
		if err != nil {
			return nil, fmt.Errorf("marshal column %q: %w", column, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(r.values[column])
		if err != nil {
			return nil, fmt.Errorf("marshal value of %q: %w", column, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
