package audit

import (
	"bytes"
	"reflect"
)

// Row maps column names to column values. NULL is represented by a nil value,
// never by a typed nil pointer.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ID returns the row's primary key.
func (r Row) ID() int64 {
	switch v := r["id"].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

// Nullable dereferences p, mapping a nil pointer to a nil column value.
func Nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// Capture compares the pre-change and current state of a row and builds the
// snapshot archived for the revision being closed. Unchanged columns record
// their current value; changed columns record their previous value. A column
// missing from before has no known previous value and is recorded as NULL.
// Columns missing from after were not loaded and count as unchanged.
func Capture(t *Table, before, after Row) (Row, []string) {
	snapshot := make(Row)
	var changed []string
	for _, name := range t.ColumnNames() {
		previous, hadPrevious := before[name]
		current, hasCurrent := after[name]
		if !hasCurrent {
			snapshot[name] = previous
			continue
		}
		if hadPrevious && valuesEqual(previous, current) {
			snapshot[name] = current
			continue
		}
		if !hadPrevious && current == nil {
			snapshot[name] = nil
			continue
		}
		changed = append(changed, name)
		snapshot[name] = previous
	}
	return snapshot, changed
}

// Changed reports whether after differs from before in any audited column.
func Changed(t *Table, before, after Row) bool {
	_, changed := Capture(t, before, after)
	return len(changed) > 0
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	av := reflect.ValueOf(a)
	bv := reflect.ValueOf(b)
	if av.Type() != bv.Type() {
		return false
	}
	if method := av.MethodByName("Equal"); method.IsValid() {
		mt := method.Type()
		if mt.NumIn() == 1 && mt.In(0) == bv.Type() && mt.NumOut() == 1 && mt.Out(0).Kind() == reflect.Bool {
			return method.Call([]reflect.Value{bv})[0].Bool()
		}
	}
	return reflect.DeepEqual(a, b)
}
