// Package database provides the gateway's SQLite store.
//
// It opens the database file (WAL mode, busy timeout, 0600 permissions) and
// applies schema migrations from an fs.FS, normally the embedded
// migrations package. The thing registry, link state history and audit log
// live here.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or have defaults, and
// each .up.sql has a matching .down.sql.
package database
