// Package measure parses raw sensor submissions into numeric readings.
//
// HomeKit shortcuts and similar clients frequently send values with trailing
// unit suffixes ("18.4 °C", "65%", "650 ppm"). The contract here is explicit:
// the longest trailing run of characters that is not part of the decimal
// number grammar is stripped, and the remaining prefix must parse as a
// decimal number.
package measure

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xtxerr/sensorlog/internal/errors"
)

// numberPrefixPattern matches the leading decimal number of a value string:
// optional sign, optional integer part, optional fraction.
var numberPrefixPattern = regexp.MustCompile(`^([-+]?\d*\.?\d+)`)

// Parse converts a raw submitted value into a float64 reading.
//
// Accepted inputs:
//   - numeric JSON values (float64, int, int64)
//   - strings containing a decimal number, optionally followed by a unit
//     suffix separated by nothing or whitespace
//
// Returns errors.ErrEmptyValue for nil or blank input (the caller treats the
// field as absent, not as zero) and errors.ErrUnparseableValue when no
// leading decimal number can be extracted.
func Parse(raw any) (float64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, errors.ErrEmptyValue
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return parseString(v)
	default:
		// JSON booleans, arrays, objects.
		return 0, fmt.Errorf("unsupported type %T: %w", raw, errors.ErrUnparseableValue)
	}
}

// parseString extracts the leading decimal number from a value string.
func parseString(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.ErrEmptyValue
	}

	m := numberPrefixPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%q: %w", s, errors.ErrUnparseableValue)
	}

	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, errors.ErrUnparseableValue)
	}

	return f, nil
}
