package domain

import "time"

// Timeline carries the blame columns shared by every audited table.
type Timeline struct {
	CreateDate   time.Time  `json:"create_date"`
	CreateUserID int64      `json:"create_user_id"`
	ModifyDate   time.Time  `json:"modify_date"`
	ModifyUserID int64      `json:"modify_user_id"`
	RemoveDate   *time.Time `json:"remove_date,omitempty"`
	RemoveUserID *int64     `json:"remove_user_id,omitempty"`
}

// NewTimeline stamps a freshly created row.
func NewTimeline(now time.Time, userID int64) Timeline {
	return Timeline{
		CreateDate:   now,
		CreateUserID: userID,
		ModifyDate:   now,
		ModifyUserID: userID,
	}
}

// IsRemoved reports whether the row has been retired.
func (t Timeline) IsRemoved() bool {
	return t.RemoveDate != nil
}

// Touch records a modification.
func (t Timeline) Touch(now time.Time, userID int64) Timeline {
	t.ModifyDate = now
	t.ModifyUserID = userID
	return t
}

// Remove retires the row.
func (t Timeline) Remove(now time.Time, userID int64) Timeline {
	t = t.Touch(now, userID)
	t.RemoveDate = &now
	t.RemoveUserID = &userID
	return t
}

// Restore clears the remove stamp.
func (t Timeline) Restore(now time.Time, userID int64) Timeline {
	t = t.Touch(now, userID)
	t.RemoveDate = nil
	t.RemoveUserID = nil
	return t
}

// Validate enforces create_date <= modify_date <= remove_date.
func (t Timeline) Validate() error {
	if t.ModifyDate.Before(t.CreateDate) {
		return NewValidationError("modify_date", "must not precede create_date")
	}
	if t.RemoveDate != nil && t.RemoveDate.Before(t.ModifyDate) {
		return NewValidationError("remove_date", "must not precede modify_date")
	}
	return nil
}
