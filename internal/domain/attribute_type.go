package domain

// AttributeType is the declared primitive kind of an attribute.
type AttributeType string

const (
	AttributeTypeBoolean  AttributeType = "boolean"
	AttributeTypeInteger  AttributeType = "integer"
	AttributeTypeDecimal  AttributeType = "decimal"
	AttributeTypeString   AttributeType = "string"
	AttributeTypeText     AttributeType = "text"
	AttributeTypeDate     AttributeType = "date"
	AttributeTypeDatetime AttributeType = "datetime"
	AttributeTypeBlob     AttributeType = "blob"
	AttributeTypeChoice   AttributeType = "choice"
	AttributeTypeObject   AttributeType = "object"
)

// AttributeTypes lists every attribute type in declaration order.
var AttributeTypes = []AttributeType{
	AttributeTypeBoolean,
	AttributeTypeInteger,
	AttributeTypeDecimal,
	AttributeTypeString,
	AttributeTypeText,
	AttributeTypeDate,
	AttributeTypeDatetime,
	AttributeTypeBlob,
	AttributeTypeChoice,
	AttributeTypeObject,
}

// IsValid reports whether the type is one of the known attribute types.
func (t AttributeType) IsValid() bool {
	for _, known := range AttributeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ValueKind identifies the physical value table an attribute type is stored in.
type ValueKind string

const (
	ValueKindInteger  ValueKind = "integer"
	ValueKindDecimal  ValueKind = "decimal"
	ValueKindString   ValueKind = "string"
	ValueKindText     ValueKind = "text"
	ValueKindDatetime ValueKind = "datetime"
	ValueKindBlob     ValueKind = "blob"
	ValueKindChoice   ValueKind = "choice"
	ValueKindObject   ValueKind = "object"
)

// ValueKinds lists every physical value kind; the order is the order value
// tables are scanned in.
var ValueKinds = []ValueKind{
	ValueKindInteger,
	ValueKindDecimal,
	ValueKindString,
	ValueKindText,
	ValueKindDatetime,
	ValueKindBlob,
	ValueKindChoice,
	ValueKindObject,
}

// Kind returns the value table used to store values of this attribute type.
func (t AttributeType) Kind() ValueKind {
	switch t {
	case AttributeTypeBoolean, AttributeTypeInteger:
		return ValueKindInteger
	case AttributeTypeDecimal:
		return ValueKindDecimal
	case AttributeTypeString:
		return ValueKindString
	case AttributeTypeText:
		return ValueKindText
	case AttributeTypeDate, AttributeTypeDatetime:
		return ValueKindDatetime
	case AttributeTypeBlob:
		return ValueKindBlob
	case AttributeTypeChoice:
		return ValueKindChoice
	case AttributeTypeObject:
		return ValueKindObject
	default:
		return ""
	}
}

// TableName returns the physical table holding values of this kind.
func (k ValueKind) TableName() string {
	return "value_" + string(k)
}

// StorageKind describes how records of a schema are stored.
type StorageKind string

const (
	StorageEAV      StorageKind = "eav"
	StorageTable    StorageKind = "table"
	StorageResource StorageKind = "resource"
)

// IsValid reports whether the storage kind is known.
func (s StorageKind) IsValid() bool {
	switch s {
	case StorageEAV, StorageTable, StorageResource:
		return true
	}
	return false
}
