// Package migrations embeds the schema files so tests and deployment tooling
// can apply them without a filesystem checkout.
package migrations

import _ "embed"

//go:embed 001_init.sql
var InitSQL string
