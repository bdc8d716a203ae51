// Package local implements file storage on the local filesystem.
package local

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local file storage backend.
type Config struct {
	// BaseDir is the root directory where artifacts are stored.
	BaseDir string `mapstructure:"base_dir"`
}

// Storage stores artifacts under a base directory and addresses them
// by relative path.
type Storage struct {
	baseDir string
}

// New creates a filesystem-backed storage rooted at cfg.BaseDir.
func New(cfg Config) (*Storage, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case err != nil && os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	return &Storage{baseDir: cfg.BaseDir}, nil
}

// Store writes data under name and returns the stored path.
func (s *Storage) Store(_ context.Context, name string, data []byte) (string, error) {
	fullPath, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return fullPath, nil
}

// Retrieve reads a stored artifact; nil data means not found.
func (s *Storage) Retrieve(_ context.Context, path string) ([]byte, error) {
	resolved := path
	if !filepath.IsAbs(path) {
		var err error
		resolved, err = s.resolve(path)
		if err != nil {
			return nil, err
		}
	}
	data, err := os.ReadFile(resolved)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Delete removes a stored artifact, reporting whether it existed.
func (s *Storage) Delete(_ context.Context, path string) (bool, error) {
	resolved := path
	if !filepath.IsAbs(path) {
		var err error
		resolved, err = s.resolve(path)
		if err != nil {
			return false, err
		}
	}
	err := os.Remove(resolved)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove file: %w", err)
	}
	return true, nil
}

// List returns the stored paths under prefix.
func (s *Storage) List(_ context.Context, prefix string) ([]string, error) {
	root := s.baseDir
	if prefix != "" {
		resolved, err := s.resolve(prefix)
		if err != nil {
			return nil, err
		}
		root = resolved
	}
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk storage directory: %w", err)
	}
	return paths, nil
}

// resolve joins name under baseDir and rejects path traversal.
func (s *Storage) resolve(name string) (string, error) {
	fullPath := filepath.Join(s.baseDir, name)
	cleanBase := filepath.Clean(s.baseDir)
	cleanFull := filepath.Clean(fullPath)
	if cleanFull != cleanBase && !strings.HasPrefix(cleanFull, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return cleanFull, nil
}
