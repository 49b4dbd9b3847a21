// Package audit keeps a history table beside every audited live table.
//
// Each audited table is described once by a Table: its columns, and how it
// inherits from a parent table. The same description produces the history DDL
// (a mirror of the live columns plus a revision column, keyed by id and
// revision) and drives change capture, so the two cannot drift apart.
//
// Change capture follows three rules:
//   - an unchanged column archives its current value
//   - a changed column archives its previous value
//   - a column with no known previous value archives NULL
//
// An update that changes nothing writes nothing. Any other update or delete
// archives the pre-change snapshot under the live row's current revision, then
// increments that revision. The Recorder always runs inside the caller's
// transaction, so a failed history insert rolls the mutation back with it.
//
// Single-table subclasses add their columns to the parent's history table.
// Joined subclasses get their own history table, whose (parent key, revision)
// pair references the parent's history table.
package audit
