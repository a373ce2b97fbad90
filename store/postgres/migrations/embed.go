// Package migrations embeds the SQL schema migrations for the PostgreSQL
// provider. They are applied with goose via [postgres.RunMigrations].
package migrations

import "embed"

// Migrations is an exported constant or variable used by the authentication core.
//
//go:embed *.sql
var Migrations embed.FS
