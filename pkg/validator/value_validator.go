package validator

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/rpattn/datastore/internal/domain"
)

// maxStringLength matches the value_string column.
const maxStringLength = 255

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05.000000",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"01/02/2006",
}

// Coerced is a value converted to the payload stored for an attribute.
type Coerced struct {
	Payload  any
	ChoiceID *int64
}

// ValueValidator converts caller values to stored payloads and enforces the
// attribute's constraints.
type ValueValidator struct {
	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// NewValueValidator creates a new value validator
func NewValueValidator() *ValueValidator {
	return &ValueValidator{patterns: make(map[string]*regexp.Regexp)}
}

// Coerce converts one value for attr. A nil value is returned as a nil payload
// without error; callers decide what nil means.
func (vv *ValueValidator) Coerce(attr domain.Attribute, value any) (Coerced, error) {
	if value == nil {
		return Coerced{}, nil
	}
	payload, choiceID, err := vv.convert(attr, value)
	if err != nil {
		return Coerced{}, err
	}
	if err := vv.checkBounds(attr, payload); err != nil {
		return Coerced{}, err
	}
	if attr.Type != domain.AttributeTypeChoice && len(attr.Choices) > 0 {
		text := CanonicalText(payload)
		choice, ok := attr.Choice(text)
		if !ok {
			return Coerced{}, domain.NewValidationError(attr.Name, "%q is not one of the allowed choices", text)
		}
		id := choice.ID
		choiceID = &id
	}
	return Coerced{Payload: payload, ChoiceID: choiceID}, nil
}

// CoerceCollection converts every member of a collection value and checks the
// collection bounds. Duplicates are dropped, keeping first occurrence order.
func (vv *ValueValidator) CoerceCollection(attr domain.Attribute, values []any) ([]Coerced, error) {
	seen := make(map[string]struct{}, len(values))
	out := make([]Coerced, 0, len(values))
	for i, value := range values {
		if value == nil {
			return nil, domain.NewValidationError(attr.Name, "collection member %d is null", i)
		}
		coerced, err := vv.Coerce(attr, value)
		if err != nil {
			return nil, err
		}
		key := domain.PayloadKey(coerced.Payload)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, coerced)
	}

	n := int64(len(out))
	if attr.IsRequired && n == 0 {
		return nil, domain.NewValidationError(attr.Name, "is required")
	}
	if attr.CollectionMin != nil && n < *attr.CollectionMin {
		return nil, domain.NewValidationError(attr.Name, "needs at least %d values, got %d", *attr.CollectionMin, n)
	}
	if attr.CollectionMax != nil && n > *attr.CollectionMax {
		return nil, domain.NewValidationError(attr.Name, "allows at most %d values, got %d", *attr.CollectionMax, n)
	}
	return out, nil
}

// Decode converts a stored payload back to the value callers see. Choice
// payloads resolve to the choice name; object payloads stay entity ids.
func Decode(attr domain.Attribute, payload any) any {
	switch attr.Type {
	case domain.AttributeTypeBoolean:
		n, ok := payload.(int64)
		if !ok {
			return payload
		}
		return n != 0
	case domain.AttributeTypeChoice:
		id, ok := payload.(int64)
		if !ok {
			return payload
		}
		if choice, found := attr.ChoiceByID(id); found {
			return choice.Name
		}
		return id
	default:
		return payload
	}
}

// CanonicalText renders a stored payload the way choice names are written.
func CanonicalText(payload any) string {
	switch v := payload.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case decimal.Decimal:
		return v.String()
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// ParseTime parses the timestamp layouts accepted from files and callers.
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format %q", raw)
}

func (vv *ValueValidator) convert(attr domain.Attribute, value any) (any, *int64, error) {
	switch attr.Type {
	case domain.AttributeTypeBoolean:
		b, err := toBool(value)
		if err != nil {
			return nil, nil, domain.NewValidationError(attr.Name, "%v", err)
		}
		if b {
			return int64(1), nil, nil
		}
		return int64(0), nil, nil
	case domain.AttributeTypeInteger:
		n, err := toInt64(value)
		if err != nil {
			return nil, nil, domain.NewValidationError(attr.Name, "%v", err)
		}
		return n, nil, nil
	case domain.AttributeTypeDecimal:
		d, err := toDecimal(value)
		if err != nil {
			return nil, nil, domain.NewValidationError(attr.Name, "%v", err)
		}
		return d, nil, nil
	case domain.AttributeTypeString, domain.AttributeTypeText:
		s, err := toString(value)
		if err != nil {
			return nil, nil, domain.NewValidationError(attr.Name, "%v", err)
		}
		if attr.Type == domain.AttributeTypeString && utf8.RuneCountInString(s) > maxStringLength {
			return nil, nil, domain.NewValidationError(attr.Name, "must be at most %d characters", maxStringLength)
		}
		if attr.Validator != "" {
			pattern, err := vv.pattern(attr.Validator)
			if err != nil {
				return nil, nil, domain.NewValidationError(attr.Name, "invalid validator: %v", err)
			}
			if !pattern.MatchString(s) {
				return nil, nil, domain.NewValidationError(attr.Name, "%q does not match %s", s, attr.Validator)
			}
		}
		return s, nil, nil
	case domain.AttributeTypeDate:
		t, err := toTime(value)
		if err != nil {
			return nil, nil, domain.NewValidationError(attr.Name, "%v", err)
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil, nil
	case domain.AttributeTypeDatetime:
		t, err := toTime(value)
		if err != nil {
			return nil, nil, domain.NewValidationError(attr.Name, "%v", err)
		}
		return t.UTC().Truncate(time.Microsecond), nil, nil
	case domain.AttributeTypeBlob:
		switch v := value.(type) {
		case []byte:
			return append([]byte(nil), v...), nil, nil
		case string:
			return []byte(v), nil, nil
		}
		return nil, nil, domain.NewValidationError(attr.Name, "must be bytes, got %T", value)
	case domain.AttributeTypeChoice:
		var name string
		switch v := value.(type) {
		case domain.Choice:
			name = v.Name
		case string:
			name = strings.TrimSpace(v)
		default:
			name = CanonicalText(value)
			if n, err := toInt64(value); err == nil {
				name = strconv.FormatInt(n, 10)
			}
		}
		choice, ok := attr.Choice(name)
		if !ok {
			return nil, nil, domain.NewValidationError(attr.Name, "%q is not one of the allowed choices", name)
		}
		id := choice.ID
		return choice.ID, &id, nil
	case domain.AttributeTypeObject:
		switch v := value.(type) {
		case domain.Entity:
			return v.ID, nil, nil
		case *domain.Entity:
			if v == nil {
				return nil, nil, domain.NewValidationError(attr.Name, "entity reference is nil")
			}
			return v.ID, nil, nil
		}
		id, err := toInt64(value)
		if err != nil || id <= 0 {
			return nil, nil, domain.NewValidationError(attr.Name, "must reference an entity, got %T", value)
		}
		return id, nil, nil
	}
	return nil, nil, domain.NewValidationError(attr.Name, "unknown attribute type %q", attr.Type)
}

// checkBounds applies value_min/value_max: numeric value for integer and
// decimal, character length for string and text.
func (vv *ValueValidator) checkBounds(attr domain.Attribute, payload any) error {
	if attr.ValueMin == nil && attr.ValueMax == nil {
		return nil
	}
	var measure decimal.Decimal
	switch attr.Type {
	case domain.AttributeTypeInteger:
		measure = decimal.NewFromInt(payload.(int64))
	case domain.AttributeTypeDecimal:
		measure = payload.(decimal.Decimal)
	case domain.AttributeTypeString, domain.AttributeTypeText:
		measure = decimal.NewFromInt(int64(utf8.RuneCountInString(payload.(string))))
	default:
		return nil
	}
	if attr.ValueMin != nil && measure.LessThan(decimal.NewFromInt(*attr.ValueMin)) {
		return domain.NewValidationError(attr.Name, "%s is below the minimum %d", measure, *attr.ValueMin)
	}
	if attr.ValueMax != nil && measure.GreaterThan(decimal.NewFromInt(*attr.ValueMax)) {
		return domain.NewValidationError(attr.Name, "%s is above the maximum %d", measure, *attr.ValueMax)
	}
	return nil
}

func (vv *ValueValidator) pattern(expr string) (*regexp.Regexp, error) {
	vv.mu.Lock()
	defer vv.mu.Unlock()
	if re, ok := vv.patterns[expr]; ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	vv.patterns[expr] = re
	return re, nil
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0":
			return false, nil
		}
		return false, fmt.Errorf("%q is not a boolean", v)
	}
	n, err := toInt64(value)
	if err != nil || (n != 0 && n != 1) {
		return false, fmt.Errorf("must be a boolean, got %v", value)
	}
	return n == 1, nil
}

var (
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
	minInt64 = decimal.NewFromInt(math.MinInt64)
)

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
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
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", v)
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", v)
		}
		return int64(v), nil
	case float32:
		return toInt64(float64(v))
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		if v >= 0x1p63 || v < -0x1p63 {
			return 0, fmt.Errorf("%v overflows int64", v)
		}
		return int64(v), nil
	case decimal.Decimal:
		if !v.IsInteger() {
			return 0, fmt.Errorf("%s is not an integer", v)
		}
		if v.GreaterThan(maxInt64) || v.LessThan(minInt64) {
			return 0, fmt.Errorf("%s overflows int64", v)
		}
		return v.IntPart(), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("must be an integer, got %T", value)
}

func toDecimal(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return decimal.Decimal{}, fmt.Errorf("%v is not a finite number", v)
		}
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%q is not a decimal", v)
		}
		return d, nil
	}
	n, err := toInt64(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("must be a decimal, got %T", value)
	}
	return decimal.NewFromInt(n), nil
}

func toString(value any) (string, error) {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case fmt.Stringer:
		s = v.String()
	default:
		return "", fmt.Errorf("must be a string, got %T", value)
	}
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("text is not valid UTF-8")
	}
	// Postgres text columns cannot hold NUL.
	if strings.IndexByte(s, 0) >= 0 {
		return "", fmt.Errorf("text must not contain NUL bytes")
	}
	return s, nil
}

func toTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		if v == nil {
			return time.Time{}, fmt.Errorf("time is nil")
		}
		return *v, nil
	case string:
		return ParseTime(v)
	}
	return time.Time{}, fmt.Errorf("must be a timestamp, got %T", value)
}
