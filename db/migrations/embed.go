// Package migrations embeds the SQL schema files applied by the postgres
// store at startup. Files run in lexical order.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
