// Package catalog loads YAML permission catalogs, validates their authoring
// rules, and provides a fast-lookup registry with atomic pointer swap.
package catalog

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hostelops/gatehouse/model"
)

// Loader scans directories for YAML catalog files, parses them, and computes
// SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new catalog Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a Catalog fragment. Fragments are merged by the Registry; one
// file per concern (routes, roles) and one file per deployment are both fine.
func (l *Loader) LoadAll(directories []string) ([]model.Catalog, error) {
	var frags []model.Catalog

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			frag, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			frags = append(frags, frag)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return frags, nil
}

// LoadFile loads and parses a single YAML catalog file. It computes the
// SHA-256 checksum and records the source file path.
func (l *Loader) LoadFile(path string) (model.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Catalog{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var frag model.Catalog
	if err := yaml.Unmarshal(data, &frag); err != nil {
		return model.Catalog{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	checksum := fmt.Sprintf("%x", sha256.Sum256(data))
	frag.Checksum = checksum
	frag.SourceFile = path

	return frag, nil
}
