package datastore

import (
	"github.com/rpattn/datastore/internal/domain"
	"github.com/rpattn/datastore/pkg/validator"
)

// writePlan is the set of value rows a put retires and the payloads it inserts.
type writePlan struct {
	retire []domain.ValueRow
	insert []validator.Coerced
}

func (p writePlan) empty() bool {
	return len(p.retire) == 0 && len(p.insert) == 0
}

// planSingle replaces the live row of a single-valued attribute. Writing the
// value already stored is a no-op; a nil value only retires.
func planSingle(live []domain.ValueRow, next *validator.Coerced) writePlan {
	if next == nil {
		return writePlan{retire: live}
	}
	if len(live) == 1 && sameValue(live[0], *next) {
		return writePlan{}
	}
	return writePlan{retire: live, insert: []validator.Coerced{*next}}
}

// planCollection retires the live rows whose payload is absent from next and
// inserts the payloads not yet stored. Rows present in both are left alone.
func planCollection(live []domain.ValueRow, next []validator.Coerced) writePlan {
	wanted := make(map[string]validator.Coerced, len(next))
	for _, c := range next {
		wanted[domain.PayloadKey(c.Payload)] = c
	}

	var p writePlan
	kept := make(map[string]struct{}, len(live))
	for _, row := range live {
		key := row.Key()
		c, ok := wanted[key]
		if _, dup := kept[key]; !ok || dup || !sameChoice(row.ChoiceID, c.ChoiceID) {
			p.retire = append(p.retire, row)
			continue
		}
		kept[key] = struct{}{}
	}
	for _, c := range next {
		if _, ok := kept[domain.PayloadKey(c.Payload)]; ok {
			continue
		}
		p.insert = append(p.insert, c)
	}
	return p
}

func sameValue(row domain.ValueRow, c validator.Coerced) bool {
	return domain.PayloadEqual(row.Payload, c.Payload) && sameChoice(row.ChoiceID, c.ChoiceID)
}

func sameChoice(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
