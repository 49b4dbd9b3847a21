package domain

import "time"

// AsOf selects which rows of a temporal table are visible.
//
// The zero value selects live rows (remove_date IS NULL). At(t) selects rows whose
// [create_date, remove_date) window contains t. Ever() disables the predicate and
// selects every historical row.
type AsOf struct {
	At   *time.Time
	Ever bool
}

// Live selects rows that have not been removed.
func Live() AsOf {
	return AsOf{}
}

// At selects rows valid at t.
func At(t time.Time) AsOf {
	return AsOf{At: &t}
}

// Ever selects all rows regardless of their validity window.
func Ever() AsOf {
	return AsOf{Ever: true}
}

// IsLive reports whether the predicate only matches rows without a remove date.
func (a AsOf) IsLive() bool {
	return !a.Ever && a.At == nil
}

// Matches evaluates the predicate against a row's validity window.
func (a AsOf) Matches(created time.Time, removed *time.Time) bool {
	switch {
	case a.Ever:
		return true
	case a.At == nil:
		return removed == nil
	default:
		if created.After(*a.At) {
			return false
		}
		return removed == nil || a.At.Before(*removed)
	}
}

func (a AsOf) String() string {
	switch {
	case a.Ever:
		return "ever"
	case a.At == nil:
		return "live"
	default:
		return a.At.Format(time.RFC3339Nano)
	}
}
