package state

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind identifies which arm of the Value union is populated.
type ValueKind int

const (
	// KindAbsent means no value has been observed.
	KindAbsent ValueKind = iota

	// KindNumber is a numeric observation (switch 0/1 or dimmer 0-100).
	KindNumber

	// KindString is a textual observation ("true", "false", or a numeral).
	KindString

	// KindBool is a boolean observation.
	KindBool
)

// Value is the tagged union of raw value shapes the hub reports.
// The hub is inconsistent about types: the same device can report 42,
// "42", "true", or true depending on firmware and device class, so the
// raw observation is kept as-is and interpretation happens at derivation.
type Value struct {
	kind ValueKind
	num  float64
	str  string
	b    bool
}

// Absent returns the zero observation.
func Absent() Value {
	return Value{}
}

// Number returns a numeric Value.
func Number(n float64) Value {
	return Value{kind: KindNumber, num: n}
}

// String returns a textual Value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Bool returns a boolean Value.
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// Kind returns which arm is populated.
func (v Value) Kind() ValueKind {
	return v.kind
}

// IsAbsent reports whether no value has been observed.
func (v Value) IsAbsent() bool {
	return v.kind == KindAbsent
}

// Num returns the numeric interpretation of the value.
// String values that parse as numbers count as numeric.
func (v Value) Num() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Truthy interprets the value as an on/off signal.
// Numbers (and numeric strings) are on when positive; "true"/"false"
// strings and booleans map directly. The second return is false when the
// value is absent or uninterpretable.
func (v Value) Truthy() (bool, bool) {
	switch v.kind {
	case KindNumber:
		return v.num > 0, true
	case KindBool:
		return v.b, true
	case KindString:
		switch strings.ToLower(strings.TrimSpace(v.str)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
		if n, ok := v.Num(); ok {
			return n > 0, true
		}
		return false, false
	default:
		return false, false
	}
}

// Equal reports whether two values are identical observations.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == other.num
	case KindString:
		return v.str == other.str
	case KindBool:
		return v.b == other.b
	default:
		return true
	}
}

// String renders the value for logs.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "<absent>"
	}
}

// UnmarshalJSON accepts all three wire shapes the hub emits.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*v = Absent()
		return nil
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("state: decoding value: %w", err)
	}

	switch t := raw.(type) {
	case float64:
		*v = Number(t)
	case string:
		*v = String(t)
	case bool:
		*v = Bool(t)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedValue, trimmed)
	}
	return nil
}

// MarshalJSON emits the value in its original wire shape.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}
