// Package migrations applies the embedded schema of the ledger database and
// the price history database.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed postgres/*.sql clickhouse/*.sql
var schemaFS embed.FS

// Migration is one embedded schema file. Version is the file name without
// its extension, e.g. "001_ledger", and orders the migrations.
type Migration struct {
	Version string
	SQL     string
}

// load returns the non-empty migrations of one backend, ordered by version.
func load(backend string) ([]Migration, error) {
	names, err := fs.Glob(schemaFS, backend+"/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list %s migrations: %w", backend, err)
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(schemaFS, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		out = append(out, Migration{
			Version: strings.TrimSuffix(path.Base(name), ".sql"),
			SQL:     string(data),
		})
	}
	return out, nil
}
