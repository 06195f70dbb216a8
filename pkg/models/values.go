package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// The value types below decode leniently: order documents are written by
// another system and a bad value must degrade to "absent" or zero instead of
// failing the whole record.

// Text is a string field that also accepts bare numbers (phone numbers are
// often stored that way). Anything else decodes as empty.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch firstByte(b) {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*t = ""
			return nil
		}
		*t = Text(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		*t = Text(b)
	default:
		*t = ""
	}
	return nil
}

func (t Text) String() string { return string(t) }

// Integer is an optional whole number such as a token number or quantity.
type Integer struct {
	Value int64
	Valid bool
}

func NewInteger(v int64) Integer { return Integer{Value: v, Valid: true} }

func (n *Integer) UnmarshalJSON(b []byte) error {
	*n = Integer{}
	s, ok := scalar(b)
	if !ok {
		return nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*n = Integer{Value: v, Valid: true}
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f < minInt64Float || f >= maxInt64Float {
		return nil
	}
	*n = Integer{Value: int64(f), Valid: true}
	return nil
}

// int64 covers [-2^63, 2^63); values outside it are treated as absent.
const (
	minInt64Float = -(1 << 63)
	maxInt64Float = 1 << 63
)

func (n Integer) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(n.Value, 10)), nil
}

// OrZero returns the value, or 0 when absent.
func (n Integer) OrZero() int64 {
	if !n.Valid {
		return 0
	}
	return n.Value
}

func (n Integer) String() string {
	if !n.Valid {
		return ""
	}
	return strconv.FormatInt(n.Value, 10)
}

// Amount is a currency value. Missing or non-numeric input is zero.
type Amount struct {
	decimal.Decimal
}

func NewAmount(f float64) Amount { return Amount{decimal.NewFromFloat(f)} }

func MustAmount(s string) Amount { return Amount{decimal.RequireFromString(s)} }

func (a *Amount) UnmarshalJSON(b []byte) error {
	a.Decimal = decimal.Zero
	s, ok := scalar(b)
	if !ok {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	a.Decimal = d
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.StringFixed(2)), nil
}

// Timestamp accepts ISO-8601 strings or epoch milliseconds. Values that do
// not parse are treated as an unknown date.
type Timestamp struct {
	Time  time.Time
	Valid bool
}

func NewTimestamp(t time.Time) Timestamp { return Timestamp{Time: t, Valid: true} }

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func ParseTimestamp(s string) Timestamp {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NewTimestamp(time.UnixMilli(ms).UTC())
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return NewTimestamp(t)
		}
	}
	return Timestamp{}
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	*ts = Timestamp{}
	b = bytes.TrimSpace(b)
	switch firstByte(b) {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			*ts = ParseTimestamp(s)
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		f, err := strconv.ParseFloat(string(b), 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			*ts = NewTimestamp(time.UnixMilli(int64(f)).UTC())
		}
	}
	return nil
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if !ts.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(ts.Time.UTC().Format(time.RFC3339Nano))
}

// Flag is a boolean that also accepts "true"/"yes" strings and non-zero numbers.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	*f = false
	b = bytes.TrimSpace(b)
	switch firstByte(b) {
	case 't':
		*f = true
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true", "yes", "1":
				*f = true
			}
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if v, err := strconv.ParseFloat(string(b), 64); err == nil && v != 0 {
			*f = true
		}
	}
	return nil
}

// scalar extracts a number or the contents of a string from raw JSON.
func scalar(b []byte) (string, bool) {
	b = bytes.TrimSpace(b)
	switch firstByte(b) {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return string(b), true
	}
	return "", false
}

func firstByte(b []byte) byte {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

// indexLess orders numeric keys numerically and places other keys after them.
func indexLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return ai < bi
	case aerr == nil:
		return true
	case berr == nil:
		return false
	}
	return a < b
}
