// Package migrations embeds the catalog schema and applies it in version order.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed sql/*.sql
var embedded embed.FS

// Files returns the embedded migration files.
func Files() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Direction of a migration file.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Migration represents a database migration file.
type Migration struct {
	Version   string
	Name      string
	Direction string // "up" or "down"
	FilePath  string
}

// String returns the migration identifier.
func (m Migration) String() string {
	return fmt.Sprintf("%s_%s.%s.sql", m.Version, m.Name, m.Direction)
}

// LoadMigrations lists the migrations of one direction, sorted by version.
func LoadMigrations(fsys fs.FS, direction string) ([]Migration, error) {
	if direction != DirectionUp && direction != DirectionDown {
		return nil, fmt.Errorf("invalid migration direction: %s", direction)
	}

	var migrations []Migration
	suffix := fmt.Sprintf(".%s.sql", direction)

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, suffix) {
			return nil
		}

		// 000001_scan_sessions.up.sql -> version=000001, name=scan_sessions
		baseName := strings.TrimSuffix(path.Base(p), suffix)
		version, name, ok := strings.Cut(baseName, "_")
		if !ok {
			return nil // Skip invalid filenames
		}

		migrations = append(migrations, Migration{
			Version:   version,
			Name:      name,
			Direction: direction,
			FilePath:  p,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// ReadMigrationContent reads the content of a migration file.
func ReadMigrationContent(fsys fs.FS, m Migration) ([]byte, error) {
	return fs.ReadFile(fsys, m.FilePath)
}

// GetMigrationVersions returns all migration versions from a list.
func GetMigrationVersions(migrations []Migration) []string {
	versions := make([]string, len(migrations))
	for i, m := range migrations {
		versions[i] = m.Version
	}
	return versions
}
