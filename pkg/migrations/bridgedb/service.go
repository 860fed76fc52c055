// Package bridgedb holds all the migrations for the bridge's durable store
package bridgedb

import "github.com/uptrace/bun/migrate"

// Migrations holds every registered schema migration for the bridge database.
var Migrations = migrate.NewMigrations()
