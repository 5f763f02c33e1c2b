// Package meta reads and writes the schema marker of the sync data layout.
package meta

import (
	"fmt"
	"os"
	"strings"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// CurrentSchema is the on-disk format version this build reads and writes.
const CurrentSchema = 1

// FileName is the marker file inside the worktree.
const FileName = "meta.yml"

// Meta is the schema/format marker.
type Meta struct {
	Schema int `yaml:"schema"`
}

// Read loads the marker at path. A missing file reports schema 0, which
// doctor flags as an uninitialized layout.
func Read(path string) (Meta, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, nil
		}

		return Meta{}, fmt.Errorf("read meta: %w", err)
	}

	var m Meta

	err = yaml.Unmarshal(content, &m)
	if err != nil {
		return Meta{}, fmt.Errorf("parse %s: %w", path, err)
	}

	return m, nil
}

// Write persists the marker atomically.
func Write(path string, m Meta) error {
	content, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	err = atomic.WriteFile(path, strings.NewReader(string(content)))
	if err != nil {
		return fmt.Errorf("write meta: %w", err)
	}

	return nil
}
