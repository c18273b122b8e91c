// Package database opens and migrates the bridge's SQLite store, which
// holds the state-transition history written by the history recorder.
//
// The connection is opened in WAL mode with a busy timeout so the API's
// history reads do not block the recorder's writes. All tables are
// STRICT and the file is chmodded to 0600 after first open.
//
// Migrations are embedded *.up.sql files, applied oldest first, each in
// its own transaction. The schema is additive-only so there is no down
// path: new columns must be nullable or carry a DEFAULT.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
