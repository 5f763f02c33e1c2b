// Package config loads the project configuration file.
//
// The file is JSON with comments and trailing commas (JWCC), so agents and
// humans can annotate why a repository deviates from the defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/bead/internal/ids"
)

// FileName is the project config file, looked up at the repository root.
const FileName = ".bead.json"

// Error variables for config loading.
var (
	ErrConfigInvalid     = errors.New("invalid config file")
	ErrSyncBranchEmpty   = errors.New("sync_branch cannot be empty")
	ErrRemoteEmpty       = errors.New("remote cannot be empty")
	ErrWorktreeDirEmpty  = errors.New("worktree_dir cannot be empty")
	ErrWorktreeDirEscape = errors.New("worktree_dir cannot be an absolute path or escape the repository")
	ErrUnknownPolicy     = errors.New("unknown id_conflict_policy")
)

// Config holds all configuration options.
type Config struct {
	// From the config file (serialized)
	SyncBranch       string `json:"sync_branch"`
	Remote           string `json:"remote"`
	WorktreeDir      string `json:"worktree_dir"`
	IDConflictPolicy string `json:"id_conflict_policy"`

	// Resolved paths (computed, not serialized)
	Root        string `json:"-"` // repository root
	WorktreeAbs string `json:"-"` // absolute path of the sync worktree
	Source      string `json:"-"` // config file path if one was loaded
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		SyncBranch:       "bead-sync",
		Remote:           "origin",
		WorktreeDir:      ".bead-sync",
		IDConflictPolicy: string(ids.LocalWins),
	}
}

// Policy returns the configured short-ID merge policy.
func (c Config) Policy() ids.Policy {
	return ids.Policy(c.IDConflictPolicy)
}

// IssuesDir returns the live record directory inside the worktree.
func (c Config) IssuesDir() string {
	return filepath.Join(c.WorktreeAbs, "issues")
}

// MappingPath returns the short-ID mapping file inside the worktree.
func (c Config) MappingPath() string {
	return filepath.Join(c.WorktreeAbs, "mappings", "ids.yml")
}

// AtticDir returns the conflict archive directory inside the worktree.
func (c Config) AtticDir() string {
	return filepath.Join(c.WorktreeAbs, "attic")
}

// MetaPath returns the schema marker file inside the worktree.
func (c Config) MetaPath() string {
	return filepath.Join(c.WorktreeAbs, "meta.yml")
}

// Load reads the config for the repository rooted at root.
//
// Precedence (highest wins): defaults, then the project file at
// root/.bead.json, then the explicit file at configPath when non-empty.
// A missing project file is fine; a missing explicit file is an error.
func Load(root, configPath string) (Config, error) {
	cfg := Default()
	cfg.Root = root

	projectPath := filepath.Join(root, FileName)

	loaded, err := loadFile(&cfg, projectPath)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg.Source = projectPath
	}

	if configPath != "" {
		if _, statErr := os.Stat(configPath); statErr != nil {
			return Config{}, fmt.Errorf("config file %s: %w", configPath, statErr)
		}

		if _, err := loadFile(&cfg, configPath); err != nil {
			return Config{}, err
		}

		cfg.Source = configPath
	}

	err = validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.WorktreeAbs = filepath.Join(root, cfg.WorktreeDir)

	return cfg, nil
}

func loadFile(cfg *Config, path string) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(content)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrConfigInvalid, path, err)
	}

	err = json.Unmarshal(standardized, cfg)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrConfigInvalid, path, err)
	}

	return true, nil
}

func validate(cfg Config) error {
	switch {
	case cfg.SyncBranch == "":
		return ErrSyncBranchEmpty
	case cfg.Remote == "":
		return ErrRemoteEmpty
	case cfg.WorktreeDir == "":
		return ErrWorktreeDirEmpty
	case filepath.IsAbs(cfg.WorktreeDir) || !filepath.IsLocal(cfg.WorktreeDir):
		return ErrWorktreeDirEscape
	case !ids.ValidPolicy(ids.Policy(cfg.IDConflictPolicy)):
		return fmt.Errorf("%w: %q", ErrUnknownPolicy, cfg.IDConflictPolicy)
	}

	return nil
}
