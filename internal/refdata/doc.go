// Package refdata is the symbol version store: a temporal (SCD2) history of
// instrument reference data with half-open validity intervals.
//
// VersionSet is an immutable value. Bootstrap, Apply and RebuildFromHistory
// return new sets; a failed Apply leaves nothing changed. Store persists the
// set as one lake table and serializes writers with guarded whole-table
// overwrites. Cache gives orchestrator workers lock-shared read access.
//
// Intervals are [ValidFrom, ValidUntil) in µs. An open version has
// ValidUntil = model.OpenValidUntil and IsCurrent = true.
package refdata
