package domain

// Revision is one archived state of an audited row, read back from the row's
// history table. Columns maps column names to the values captured before the
// change that produced the revision.
type Revision struct {
	Table    string         `json:"table"`
	ID       int64          `json:"id"`
	Revision int            `json:"revision"`
	Columns  map[string]any `json:"columns"`
}
