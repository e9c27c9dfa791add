package models

import (
	"database/sql/driver"
	"fmt"
	"strconv"
)

// IDKind tells whether an experiment ID was created from an integer or a string.
type IDKind uint8

const (
	KindNone IDKind = iota
	KindInt
	KindString
)

// ID is an experiment identifier. Runs sharing one store are distinguished by
// it; it may be an integer (e.g. a sweep index) or an arbitrary string.
type ID struct {
	kind IDKind
	n    int64
	s    string
}

// IntID creates an integer experiment ID
func IntID(n int64) ID {
	return ID{kind: KindInt, n: n}
}

// StringID creates a string experiment ID
func StringID(s string) ID {
	return ID{kind: KindString, s: s}
}

// ParseID turns text read back from a text column into an ID, preferring
// the integer form when the text is a base-10 integer.
func ParseID(s string) ID {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return IntID(n)
	}
	return StringID(s)
}

// IDFromValue converts a driver value (int64, string, []byte) into an ID.
func IDFromValue(v any) (ID, error) {
	switch x := v.(type) {
	case nil:
		return ID{}, nil
	case int64:
		return IntID(x), nil
	case int:
		return IntID(int64(x)), nil
	case int32:
		return IntID(int64(x)), nil
	case float64:
		return IntID(int64(x)), nil
	case string:
		return StringID(x), nil
	case []byte:
		return StringID(string(x)), nil
	case ID:
		return x, nil
	default:
		return ID{}, fmt.Errorf("unsupported experiment id type %T", v)
	}
}

func (id ID) Kind() IDKind { return id.kind }

// IsZero reports whether the ID was never set
func (id ID) IsZero() bool { return id.kind == KindNone }

// Int returns the integer value and whether the ID is an integer
func (id ID) Int() (int64, bool) { return id.n, id.kind == KindInt }

// String renders the ID as text; integer IDs use base 10.
func (id ID) String() string {
	switch id.kind {
	case KindInt:
		return strconv.FormatInt(id.n, 10)
	case KindString:
		return id.s
	default:
		return ""
	}
}

// Value implements driver.Valuer so IDs bind with their native SQL type.
func (id ID) Value() (driver.Value, error) {
	switch id.kind {
	case KindInt:
		return id.n, nil
	case KindString:
		return id.s, nil
	default:
		return nil, nil
	}
}

// Scan implements sql.Scanner
func (id *ID) Scan(src any) error {
	v, err := IDFromValue(src)
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// Point is one observation produced by the Collector and persisted by a Backend.
type Point struct {
	ExperimentID ID
	Metric       string
	Frame        int64
	Data         any
}

// Row is a stored observation as read back from a backend.
type Row struct {
	Frame       int64 `db:"frame"`
	ID          ID    `db:"id"`
	Measurement any   `db:"measurement"`
}

// Less orders IDs: unset first, then integers numerically, then strings.
func (id ID) Less(o ID) bool {
	if id.kind != o.kind {
		return id.kind < o.kind
	}
	if id.kind == KindInt {
		return id.n < o.n
	}
	return id.s < o.s
}
