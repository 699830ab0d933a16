package accounts

import (
	"embed"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS exposes the account schema migrations so hosts can run
// them with their own migration tooling.
func GetMigrationsFS() embed.FS {
	return migrationsFS
}
