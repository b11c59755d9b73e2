// internal/inventory/catalog.go
package inventory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	shellquote "github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"sensorqa/internal/model"
)

var ErrEmptyCatalog = errors.New("test catalog is empty")

// LoadCatalog reads a category -> tests mapping. The format follows the file
// extension: .toml, .json, otherwise YAML. Category order is the order of
// declaration in the file.
func LoadCatalog(path string) (*model.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("failed to read test catalog: %w", err)}
	}

	var catalog *model.Catalog
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		catalog, err = ParseCatalogTOML(data)
	case ".json":
		catalog, err = ParseCatalogJSON(data)
	default:
		catalog, err = ParseCatalogYAML(data)
	}
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	if err := ValidateCatalog(catalog); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"file":       path,
		"categories": len(catalog.Categories),
		"tests":      catalog.Len(),
	}).Info("Test catalog loaded")
	return catalog, nil
}

// ParseCatalogYAML walks the document node so mapping order survives.
func ParseCatalogYAML(data []byte) (*model.Catalog, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse test catalog: %w", err)
	}
	catalog := &model.Catalog{}
	if len(doc.Content) == 0 {
		return catalog, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("test catalog must be a mapping of category to tests (line %d)", root.Line)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		var tests []model.TestDefinition
		if err := root.Content[i+1].Decode(&tests); err != nil {
			return nil, fmt.Errorf("category %q: %w", name, err)
		}
		catalog.Categories = append(catalog.Categories, newCategory(name, tests))
	}
	return catalog, nil
}

// ParseCatalogJSON streams the top-level object to keep key order, which a
// map decode would lose.
func ParseCatalogJSON(data []byte) (*model.Catalog, error) {
	catalog := &model.Catalog{}
	if len(bytes.TrimSpace(data)) == 0 {
		return catalog, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to parse test catalog: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("test catalog must be an object of category to tests")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to parse test catalog: %w", err)
		}
		name, _ := tok.(string)
		var tests []model.TestDefinition
		if err := dec.Decode(&tests); err != nil {
			return nil, fmt.Errorf("category %q: %w", name, err)
		}
		catalog.Categories = append(catalog.Categories, newCategory(name, tests))
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse test catalog: %w", err)
	}
	return catalog, nil
}

// ParseCatalogTOML expects one array of tables per category:
//
//	[[Performance]]
//	name = "CPU load"
//	command = "uptime"
//
// A category's tables must be contiguous. Reopening a category after another
// one was declared is reported as a duplicate.
func ParseCatalogTOML(data []byte) (*model.Catalog, error) {
	var raw map[string][]model.TestDefinition
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse test catalog: %w", err)
	}
	catalog := &model.Catalog{}
	seen := make(map[string]bool)
	var current string
	for _, key := range md.Keys() {
		if len(key) != 1 || key[0] == current {
			continue
		}
		current = key[0]
		if seen[current] {
			return nil, fmt.Errorf("duplicate category %q", current)
		}
		seen[current] = true
		catalog.Categories = append(catalog.Categories, newCategory(current, raw[current]))
	}
	return catalog, nil
}

func newCategory(name string, tests []model.TestDefinition) model.Category {
	for i := range tests {
		tests[i].Category = name
		tests[i].Name = strings.TrimSpace(tests[i].Name)
	}
	return model.Category{Name: name, Tests: tests}
}

// ValidateCatalog rejects catalogs the runner could not execute faithfully.
func ValidateCatalog(c *model.Catalog) error {
	if c == nil || len(c.Categories) == 0 {
		return ErrEmptyCatalog
	}
	categories := make(map[string]bool, len(c.Categories))
	for _, cat := range c.Categories {
		if strings.TrimSpace(cat.Name) == "" {
			return fmt.Errorf("category with empty name")
		}
		if categories[cat.Name] {
			return fmt.Errorf("duplicate category %q", cat.Name)
		}
		categories[cat.Name] = true
		if len(cat.Tests) == 0 {
			return fmt.Errorf("category %q has no tests", cat.Name)
		}
		names := make(map[string]bool, len(cat.Tests))
		for i, t := range cat.Tests {
			if t.Name == "" {
				return fmt.Errorf("category %q test %d: name is required", cat.Name, i)
			}
			if names[t.Name] {
				return fmt.Errorf("category %q: duplicate test name %q", cat.Name, t.Name)
			}
			names[t.Name] = true
			if strings.TrimSpace(t.Command) == "" {
				return fmt.Errorf("category %q test %q: command is required", cat.Name, t.Name)
			}
			if _, err := shellquote.Split(t.Command); err != nil {
				return fmt.Errorf("category %q test %q: malformed command: %w", cat.Name, t.Name, err)
			}
			if t.LogCheck != "" {
				if _, err := shellquote.Split(t.LogCheck); err != nil {
					return fmt.Errorf("category %q test %q: malformed log_check: %w", cat.Name, t.Name, err)
				}
			}
		}
	}
	return nil
}
