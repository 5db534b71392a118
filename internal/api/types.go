package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind distinguishes numeric fields from categorical ones
type Kind int

const (
	KindNumeric Kind = iota
	KindCategorical
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindCategorical:
		return "categorical"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a single field value: either a number or a category label
type Value struct {
	Kind Kind
	Num  float64
	Str  string
}

// Num returns a numeric value.
func Num(v float64) Value { return Value{Kind: KindNumeric, Num: v} }

// Cat returns a categorical value.
func Cat(s string) Value { return Value{Kind: KindCategorical, Str: s} }

// Float returns the value as a float. Categorical values parse as numbers when they can.
func (v Value) Float() (float64, bool) {
	if v.Kind == KindNumeric {
		return v.Num, true
	}
	f, err := strconv.ParseFloat(v.Str, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// String renders the value the way it appears in explanation labels.
func (v Value) String() string {
	if v.Kind == KindNumeric {
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	}
	return v.Str
}

// Equal reports whether two values are the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == KindNumeric {
		return v.Num == o.Num || (math.IsNaN(v.Num) && math.IsNaN(o.Num))
	}
	return v.Str == o.Str
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == KindNumeric {
		return json.Marshal(v.Num)
	}
	return json.Marshal(v.Str)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Cat(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("value must be a string or number: %w", err)
	}
	*v = Num(f)
	return nil
}

// InputRow is one record: an ordered set of named field values.
// It is immutable once built; accessors return copies.
type InputRow struct {
	columns []string
	values  map[string]Value
}

// NewInputRow builds a row from parallel column and value slices.
func NewInputRow(columns []string, values []Value) (InputRow, error) {
	if len(columns) != len(values) {
		return InputRow{}, fmt.Errorf("row has %d columns but %d values", len(columns), len(values))
	}
	row := InputRow{
		columns: make([]string, len(columns)),
		values:  make(map[string]Value, len(columns)),
	}
	for i, c := range columns {
		if _, dup := row.values[c]; dup {
			return InputRow{}, fmt.Errorf("duplicate column %q", c)
		}
		row.columns[i] = c
		row.values[c] = values[i]
	}
	return row, nil
}

// MustInputRow is NewInputRow for literals known to be well formed.
func MustInputRow(columns []string, values []Value) InputRow {
	row, err := NewInputRow(columns, values)
	if err != nil {
		panic(err)
	}
	return row
}

// Columns returns the field names in row order.
func (r InputRow) Columns() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

// Len returns the number of fields.
func (r InputRow) Len() int { return len(r.columns) }

// Get looks up a field by name.
func (r InputRow) Get(name string) (Value, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Values returns the field values in row order.
func (r InputRow) Values() []Value {
	out := make([]Value, len(r.columns))
	for i, c := range r.columns {
		out[i] = r.values[c]
	}
	return out
}

// With returns a copy of the row with one field replaced.
func (r InputRow) With(name string, v Value) InputRow {
	out := InputRow{
		columns: r.Columns(),
		values:  make(map[string]Value, len(r.values)),
	}
	for k, val := range r.values {
		out.values[k] = val
	}
	if _, ok := out.values[name]; !ok {
		out.columns = append(out.columns, name)
	}
	out.values[name] = v
	return out
}

// MarshalJSON writes the row as an object with keys in row order.
func (r InputRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.values[c])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, keeping the key order of the document.
func (r *InputRow) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("row must be a JSON object")
	}
	var cols []string
	var vals []Value
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key token %v", tok)
		}
		var v Value
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		cols = append(cols, key)
		vals = append(vals, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	row, err := NewInputRow(cols, vals)
	if err != nil {
		return err
	}
	*r = row
	return nil
}
