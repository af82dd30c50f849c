package registry

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// LoadFile reads entities from a YAML, JSON or XLSX file. The format is
// chosen by extension.
func LoadFile(path string) ([]Entity, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading registry file: %w", err)
		}
		return Decode(data)
	case ".xlsx":
		return loadXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported registry format: %s", ext)
	}
}

type entityFile struct {
	Entities []Entity `yaml:"entities"`
}

// Decode parses YAML or JSON. Both a bare list of entities and an object with
// an "entities" key are accepted.
func Decode(data []byte) ([]Entity, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var list []Entity
	if err := yaml.Unmarshal(trimmed, &list); err == nil {
		return list, nil
	}

	var f entityFile
	if err := yaml.Unmarshal(trimmed, &f); err != nil {
		return nil, fmt.Errorf("decoding registry: %w", err)
	}
	return f.Entities, nil
}

// loadXLSX reads the first sheet. The first row is a header; recognised
// columns are id (or cik), name, ticker, aliases and description. Aliases are
// separated by ';' or '|'.
func loadXLSX(path string) ([]Entity, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := make(map[string]int)
	for i, h := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "cik" {
			key = "id"
		}
		col[key] = i
	}
	if _, ok := col["id"]; !ok {
		return nil, fmt.Errorf("XLSX registry %s: missing id column", path)
	}
	if _, ok := col["name"]; !ok {
		return nil, fmt.Errorf("XLSX registry %s: missing name column", path)
	}

	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var entities []Entity
	for _, row := range rows[1:] {
		id := cell(row, "id")
		if id == "" {
			continue
		}
		e := Entity{
			ID:          id,
			Name:        cell(row, "name"),
			Ticker:      cell(row, "ticker"),
			Description: cell(row, "description"),
		}
		if raw := cell(row, "aliases"); raw != "" {
			for _, a := range strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == '|' }) {
				if a = strings.TrimSpace(a); a != "" {
					e.Aliases = append(e.Aliases, a)
				}
			}
		}
		entities = append(entities, e)
	}
	return entities, nil
}
