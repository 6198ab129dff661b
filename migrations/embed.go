// Package migrations holds the identity schema as ordered SQL files. The
// server applies them at start when DATABASE_AUTO_MIGRATE is set; integration
// tests apply them to every fresh container.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql
var FS embed.FS

const upSuffix = ".up.sql"

// File is one forward migration. Version is the file name without the
// ".up.sql" suffix, e.g. "000001_identity".
type File struct {
	Version string
	SQL     string
}

// Up returns the forward migrations in apply order.
func Up() ([]File, error) {
	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), upSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	files := make([]File, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(FS, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		files = append(files, File{Version: strings.TrimSuffix(name, upSuffix), SQL: string(content)})
	}
	return files, nil
}
