package types

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Coerce converts a scalar value into the canonical Go type for kind:
// int64, string, float64, bool or time.Time (UTC). Backends return values in
// their own representation (SQLite booleans as integers, timestamps as RFC 3339
// text, JSON numbers as float64); coercing on both write and hydrate keeps
// snapshot comparisons exact. A nil value passes through unchanged.
func Coerce(kind FieldKind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case KindInteger:
		return coerceInteger(v)
	case KindText:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case KindReal:
		switch f := v.(type) {
		case float64:
			return f, nil
		case float32:
			return float64(f), nil
		default:
			n, err := coerceInteger(v)
			if err == nil {
				return float64(n.(int64)), nil
			}
		}
	case KindBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		default:
			n, err := coerceInteger(v)
			if err == nil {
				return n.(int64) != 0, nil
			}
		}
	case KindTimestamp:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
			}
			return parsed.UTC(), nil
		}
	default:
		return nil, fmt.Errorf("%w: unknown field kind %q", ErrTypeMismatch, kind)
	}
	return nil, fmt.Errorf("%w: %T is not %s", ErrTypeMismatch, v, kind)
}

func coerceInteger(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint:
		if uint64(n) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrTypeMismatch, n)
		}
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrTypeMismatch, n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("%w: %v is not integral", ErrTypeMismatch, n)
		}
		return int64(n), nil
	}
	return nil, fmt.Errorf("%w: %T is not integer", ErrTypeMismatch, v)
}

// Storable converts a canonical value into the form written to backends that
// lack native timestamps (SQLite, JSONL): time.Time becomes RFC 3339 text.
func Storable(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

// ParseValue converts command-line text into the canonical value for kind.
// The literal "null" yields nil.
func ParseValue(kind FieldKind, s string) (any, error) {
	if s == "null" {
		return nil, nil
	}
	switch kind {
	case KindInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrTypeMismatch, s)
		}
		return n, nil
	case KindReal:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, s)
		}
		return f, nil
	case KindBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a boolean", ErrTypeMismatch, s)
		}
		return b, nil
	}
	return Coerce(kind, s)
}
