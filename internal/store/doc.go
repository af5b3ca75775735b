// Package store persists Ada's event log and firmware history in SQLite.
//
// Both repositories take a *sql.DB whose schema was created by the
// migrations package.
package store
