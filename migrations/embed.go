package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

// Files exposes embedded SQL migration files, one directory per dialect.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS

// ForDriver returns the migration directory for a database driver.
func ForDriver(driver string) (fs.FS, error) {
	switch driver {
	case "postgres", "sqlite":
		return fs.Sub(Files, driver)
	default:
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
}
