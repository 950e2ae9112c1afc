// Package migrations embeds the SQL schema for both logical databases.
package migrations

import "embed"

// TPRM holds the vendor-approval database schema under "tprm".
//
//go:embed tprm/*.sql
var TPRM embed.FS

// Primary holds the default database schema under "default".
//
//go:embed default/*.sql
var Primary embed.FS

const (
	TPRMDir    = "tprm"
	PrimaryDir = "default"
)
