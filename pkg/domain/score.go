package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Score is a per-dimension score in [0,1] or "not applicable" when the
// inputs needed to compute it are missing.
type Score struct {
	value      float64
	applicable bool
}

// Applicable wraps a computed value
func Applicable(v float64) Score {
	return Score{value: v, applicable: true}
}

// NotApplicable marks a dimension without usable data
func NotApplicable() Score {
	return Score{}
}

// Value returns the score and whether it applies
func (s Score) Value() (float64, bool) {
	return s.value, s.applicable
}

// IsApplicable reports whether the dimension had data
func (s Score) IsApplicable() bool {
	return s.applicable
}

// Equal reports whether both scores agree on applicability and value
func (s Score) Equal(o Score) bool {
	return s.applicable == o.applicable && s.value == o.value
}

// Or returns the value, or def when not applicable
func (s Score) Or(def float64) float64 {
	if !s.applicable {
		return def
	}
	return s.value
}

func (s Score) String() string {
	if !s.applicable {
		return "n/a"
	}
	return strconv.FormatFloat(s.value, 'f', 3, 64)
}

// MarshalJSON renders not-applicable as null
func (s Score) MarshalJSON() ([]byte, error) {
	if !s.applicable {
		return []byte("null"), nil
	}
	return json.Marshal(s.value)
}

// UnmarshalJSON accepts a number or null
func (s *Score) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = NotApplicable()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode score: %w", err)
	}
	*s = Applicable(v)
	return nil
}

// MarshalYAML renders not-applicable as null
func (s Score) MarshalYAML() (interface{}, error) {
	if !s.applicable {
		return nil, nil
	}
	return s.value, nil
}
