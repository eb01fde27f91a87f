// SPDX-License-Identifier: Apache-2.0

// Package migrations embeds the SQL schema of the relational storage
// backends, one directory per dialect.
package migrations

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed postgres/*.sql sqlite/*.sql
var embeddedFiles embed.FS

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// File is one migration. Version comes from the numeric filename prefix
// ("0002_add_index.sql" is version 2).
type File struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// Ordered returns the migrations of a dialect sorted by version. Files
// without a numeric prefix or sharing a version are rejected.
func Ordered(d Dialect) ([]File, error) {
	entries, err := fs.ReadDir(embeddedFiles, string(d))
	if err != nil {
		return nil, fmt.Errorf("read %s migrations: %w", d, err)
	}

	files := make([]File, 0, len(entries))
	seen := make(map[int]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseVersion(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration %s reuses version %d of %s", entry.Name(), version, prev)
		}
		seen[version] = entry.Name()

		body, err := embeddedFiles.ReadFile(path.Join(string(d), entry.Name()))
		if err != nil {
			return nil, err
		}

		sum := sha256.Sum256(body)
		files = append(files, File{
			Version:  version,
			Name:     entry.Name(),
			SQL:      string(body),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Version < files[j].Version
	})

	return files, nil
}

func parseVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %s has no version prefix", name)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("migration %s has invalid version prefix %q", name, prefix)
	}
	return v, nil
}
