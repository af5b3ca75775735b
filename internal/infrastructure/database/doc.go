// Package database opens Ada's SQLite database and applies its schema
// migrations.
//
// The database is small: an event log of power transitions, remote
// commands and device sessions, plus the history of firmware versions
// served to the fleet. WAL mode lets the API read while the engine writes.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files live at the root of the supplied filesystem and are
// named NNNN_description.up.sql with an optional matching .down.sql.
// Migrations are additive: new columns must be nullable or have defaults.
package database
