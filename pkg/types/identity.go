package types

import (
	"fmt"
	"math"
	"strconv"
)

// Identity names one persistent entity instance: the entity type and its
// normalised primary key. Identity is comparable and is used directly as a
// map key by the identity map, the change tracker, and the second-level cache.
type Identity struct {
	Type string
	ID   any
}

// NewIdentity builds an Identity, normalising id with NormalizeID.
func NewIdentity(entityType string, id any) (Identity, error) {
	if entityType == "" {
		return Identity{}, ErrUnknownEntity
	}
	n, err := NormalizeID(id)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Type: entityType, ID: n}, nil
}

// String renders the identity as "Type#id".
func (i Identity) String() string {
	return fmt.Sprintf("%s#%v", i.Type, i.ID)
}

// NormalizeID maps every integer kind to int64 and keeps non-empty strings
// unchanged, so that an id supplied by application code and the same id read
// back from any backend produce equal identities. Integral float64 values
// (JSON-decoded numbers) are accepted as int64.
func NormalizeID(id any) (any, error) {
	switch v := id.(type) {
	case nil:
		return nil, ErrInvalidID
	case string:
		if v == "" {
			return nil, ErrInvalidID
		}
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return uintID(uint64(v))
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return uintID(v)
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-integral id %v", ErrInvalidID, v)
		}
		return int64(v), nil
	default:
		return nil, fmt.Errorf("%w: unsupported id type %T", ErrInvalidID, id)
	}
}

func uintID(v uint64) (any, error) {
	if v > math.MaxInt64 {
		return nil, fmt.Errorf("%w: id %d overflows int64", ErrInvalidID, v)
	}
	return int64(v), nil
}

// ParseID converts command-line text into an id of the given field kind.
func ParseID(kind FieldKind, s string) (any, error) {
	if s == "" {
		return nil, ErrInvalidID
	}
	switch kind {
	case KindInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidID, s)
		}
		return n, nil
	case KindText:
		return s, nil
	default:
		return nil, fmt.Errorf("%w: identifier kind %q", ErrInvalidID, kind)
	}
}
