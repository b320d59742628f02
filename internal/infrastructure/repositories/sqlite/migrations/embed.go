package migrations

import "embed"

// FS contains the embedded session store schema.
//
//go:embed *.sql
var FS embed.FS
