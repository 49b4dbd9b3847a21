package domain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ValueRow is one stored value of an attribute for an entity. Payload holds the
// native column value of the row's kind: int64 (integer, choice, object),
// decimal.Decimal, string (string, text), time.Time or []byte.
type ValueRow struct {
	ID          int64     `json:"id"`
	Kind        ValueKind `json:"kind"`
	EntityID    int64     `json:"entity_id"`
	AttributeID int64     `json:"attribute_id"`
	ChoiceID    *int64    `json:"choice_id,omitempty"`
	Payload     any       `json:"value"`
	Timeline
	Revision int `json:"revision"`
}

// IsLive reports whether the value row has not been retired.
func (v ValueRow) IsLive() bool {
	return v.RemoveDate == nil
}

// Key returns the canonical comparison key of the row's payload.
func (v ValueRow) Key() string {
	return PayloadKey(v.Payload)
}

// Assignment records that an entity holds values for an attribute.
type Assignment struct {
	EntityID    int64     `json:"entity_id"`
	AttributeID int64     `json:"attribute_id"`
	Kind        ValueKind `json:"kind"`
}

// PayloadKey renders a stored payload as a canonical string so payloads can be
// compared for equality and used as set members. Decimals compare by value, not
// by scale, and times by instant.
func PayloadKey(payload any) string {
	switch v := payload.(type) {
	case nil:
		return "\x00"
	case int64:
		return strconv.FormatInt(v, 10)
	case decimal.Decimal:
		return v.String()
	case string:
		return "s:" + v
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case []byte:
		return "b:" + hex.EncodeToString(v)
	default:
		return fmt.Sprintf("%T:%v", payload, payload)
	}
}

// PayloadEqual compares two stored payloads.
func PayloadEqual(a, b any) bool {
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case decimal.Decimal:
		bv, ok := b.(decimal.Decimal)
		return ok && av.Equal(bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}
	return PayloadKey(a) == PayloadKey(b)
}
