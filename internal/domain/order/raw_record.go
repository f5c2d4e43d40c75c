package order

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// dateLayouts are the locale-invariant layouts accepted for textual dates
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"01/02/2006",
	"01/02/2006 15:04:05",
}

// RawRecord is one row of the ERP order query.
// Column order is preserved so the row can be logged exactly as returned.
type RawRecord struct {
	columns []string
	values  map[string]any
	// folded maps a lower-cased column name to its original spelling,
	// since some drivers fold unquoted identifiers
	folded map[string]string
}

// NewRawRecord creates a RawRecord from parallel column and value slices.
// Missing trailing values are treated as NULL.
func NewRawRecord(columns []string, values []any) RawRecord {
	r := RawRecord{
		columns: make([]string, 0, len(columns)),
		values:  make(map[string]any, len(columns)),
		folded:  make(map[string]string, len(columns)),
	}
	for i, col := range columns {
		var v any
		if i < len(values) {
			v = values[i]
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if _, seen := r.values[col]; !seen {
			r.columns = append(r.columns, col)
		}
		r.values[col] = v
		r.folded[strings.ToLower(col)] = col
	}
	return r
}

// RecordFromMap creates a RawRecord from a map, ordering columns by name
func RecordFromMap(m map[string]any) RawRecord {
	columns := make([]string, 0, len(m))
	for k := range m {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	values := make([]any, len(columns))
	for i, k := range columns {
		values[i] = m[k]
	}
	return NewRawRecord(columns, values)
}

// Columns returns the column names in source order
func (r RawRecord) Columns() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

// Value returns the raw value of a column. Lookup is exact first, then case-insensitive.
func (r RawRecord) Value(column string) (any, bool) {
	if v, ok := r.values[column]; ok {
		return v, true
	}
	if orig, ok := r.folded[strings.ToLower(column)]; ok {
		return r.values[orig], true
	}
	return nil, false
}

// String returns the trimmed textual value of a column.
// NULL, missing and blank values are reported as absent.
func (r RawRecord) String(column string) (string, bool) {
	v, ok := r.Value(column)
	if !ok {
		return "", false
	}
	s, ok := scalarString(v)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

// Text returns the trimmed value of a column truncated to limit runes
func (r RawRecord) Text(column string, limit int) (string, bool) {
	s, ok := r.String(column)
	if !ok {
		return "", false
	}
	return Truncate(s, limit), true
}

// Date returns the column as a calendar date rendered YYYY-MM-DD.
// Unparseable values are absent.
func (r RawRecord) Date(column string) (string, bool) {
	v, ok := r.Value(column)
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return "", false
		}
		return t.Format("2006-01-02"), true
	case *time.Time:
		if t == nil || t.IsZero() {
			return "", false
		}
		return t.Format("2006-01-02"), true
	}
	s, ok := r.String(column)
	if !ok {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// Int returns the column as a 32-bit range integer.
// Fractional numbers are rounded half to even; text must be an integer literal.
func (r RawRecord) Int(column string) (int, bool) {
	v, ok := r.Value(column)
	if !ok || v == nil {
		return 0, false
	}
	var n float64
	switch t := v.(type) {
	case int:
		n = float64(t)
	case int8:
		n = float64(t)
	case int16:
		n = float64(t)
	case int32:
		n = float64(t)
	case int64:
		n = float64(t)
	case uint:
		n = float64(t)
	case uint8:
		n = float64(t)
	case uint16:
		n = float64(t)
	case uint32:
		n = float64(t)
	case uint64:
		n = float64(t)
	case float32:
		n = math.RoundToEven(float64(t))
	case float64:
		n = math.RoundToEven(t)
	case decimal.Decimal:
		n = t.RoundBank(0).InexactFloat64()
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		s, ok := r.String(column)
		if !ok {
			return 0, false
		}
		i, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	if math.IsNaN(n) || n > math.MaxInt32 || n < math.MinInt32 {
		return 0, false
	}
	return int(n), true
}

// Decimal returns the column rounded half away from zero to the given places
func (r RawRecord) Decimal(column string, places int32) (decimal.Decimal, bool) {
	v, ok := r.Value(column)
	if !ok || v == nil {
		return decimal.Zero, false
	}
	var d decimal.Decimal
	switch t := v.(type) {
	case decimal.Decimal:
		d = t
	case int:
		d = decimal.NewFromInt(int64(t))
	case int32:
		d = decimal.NewFromInt32(t)
	case int64:
		d = decimal.NewFromInt(t)
	case float32:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, false
		}
		d = decimal.NewFromFloat32(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Zero, false
		}
		d = decimal.NewFromFloat(t)
	default:
		s, ok := r.String(column)
		if !ok {
			return decimal.Zero, false
		}
		parsed, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false
		}
		d = parsed
	}
	return d.Round(places), true
}

// Money returns the column rounded to 2 places (monetary totals)
func (r RawRecord) Money(column string) (decimal.Decimal, bool) {
	return r.Decimal(column, 2)
}

// Quantity returns the column rounded to 3 places (quantities and rates)
func (r RawRecord) Quantity(column string) (decimal.Decimal, bool) {
	return r.Decimal(column, 3)
}

// Yes reports whether a flag column is set: "Y", "1" or "T", case-insensitively.
// Anything else, including an absent value, is false.
func (r RawRecord) Yes(column string) bool {
	s, ok := r.String(column)
	if !ok {
		return false
	}
	return strings.EqualFold(s, "Y") || s == "1" || strings.EqualFold(s, "T")
}

// MarshalJSON renders the row as a JSON object in column order
func (r RawRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[col])
		if err != nil {
			val, _ = json.Marshal(fmt.Sprint(r.values[col]))
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// scalarString renders a driver value as text
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []byte:
		return string(t), true
	case time.Time:
		return t.Format(time.RFC3339), true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case decimal.Decimal:
		return t.String(), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return fmt.Sprint(t), true
	}
}
