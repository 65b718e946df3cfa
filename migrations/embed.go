// SPDX-License-Identifier: Apache-2.0

// Package migrations embeds the schema migration files shipped with the
// binary. Files apply in lexical filename order, so new migrations take the
// next numeric prefix.
package migrations

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql
var schemaFiles embed.FS

type File struct {
	Name string
	SQL  string
}

// Ordered returns every embedded .sql file sorted by filename.
func Ordered() ([]File, error) {
	entries, err := fs.ReadDir(schemaFiles, ".")
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	files := make([]File, 0, len(names))
	for _, name := range names {
		body, err := schemaFiles.ReadFile(name)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: name, SQL: string(body)})
	}

	return files, nil
}
