package sample

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Row maps field keys to their stored text. Numeric values written by the
// formula engine are stored as their text rendering.
type Row map[string]string

// Get returns the stored text for key, "" when absent.
func (r Row) Get(key string) string {
	return r[key]
}

// Float parses the stored value the way the grid does for arithmetic:
// surrounding space is ignored and anything non-numeric counts as zero.
func (r Row) Float(key string) float64 {
	return ParseNumber(r[key])
}

// Clone returns an independent copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// With returns a copy of the row with key set to value.
func (r Row) With(key, value string) Row {
	out := r.Clone()
	out[key] = value
	return out
}

// UnmarshalJSON accepts rows written by older clients that stored numbers,
// booleans and nulls next to strings.
func (r *Row) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	out := make(Row, len(raw))
	for key, value := range raw {
		text, err := scalarText(value)
		if err != nil {
			return fmt.Errorf("decode row field %s: %w", key, err)
		}
		out[key] = text
	}
	*r = out
	return nil
}

func scalarText(value json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case '{', '[':
		return "", fmt.Errorf("nested values are not supported")
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	}
}

// ParseNumber reads the leading decimal number of s, exponent included.
// Empty or non-numeric text yields 0, trailing junk is ignored ("12ul" is
// 12, "1e3ul" is 1000). Only decimal syntax is read: "0x1p4" is 0.
func ParseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	end := numericPrefix(s)
	if end == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil || isNaNOrInf(v) {
		return 0
	}
	return v
}

func numericPrefix(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := false
	for i < len(s) && isDigit(s[i]) {
		i++
		digits = true
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		for j < len(s) && isDigit(s[j]) {
			j++
			digits = true
		}
		if j > i+1 {
			i = j
		}
	}
	if !digits {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > j {
			i = k
		}
	}
	return i
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isNaNOrInf(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
