// Package pathutil validates user-supplied file paths before they are opened.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// clean rejects traversal patterns and returns the absolute form of path.
func clean(path string) (string, error) {
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path contains directory traversal pattern: %s", path)
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}
	return abs, nil
}

// ValidateInputPath checks that path names an existing regular file, optionally
// inside one of allowedBaseDirs, and returns its absolute form. Stat failures
// are wrapped so callers can test for fs.ErrNotExist and fs.ErrPermission.
func ValidateInputPath(path string, allowedBaseDirs ...string) (string, error) {
	abs, err := clean(path)
	if err != nil {
		return "", err
	}

	if len(allowedBaseDirs) > 0 {
		allowed := false
		for _, dir := range allowedBaseDirs {
			if ok, err := IsWithinDirectory(abs, dir); err == nil && ok {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", fmt.Errorf("path %s is not within allowed directories", abs)
		}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("checking input file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("input %s is not a regular file", abs)
	}
	return abs, nil
}

// ValidateConfigPath checks a configuration file path. Config files are YAML.
func ValidateConfigPath(path string) (string, error) {
	abs, err := clean(path)
	if err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(abs))
	if ext != ".yaml" && ext != ".yml" {
		return "", fmt.Errorf("config file must have .yaml or .yml extension, got %s", ext)
	}
	return abs, nil
}

// ValidateOutputPath checks a path about to be written. Its parent directory must exist.
func ValidateOutputPath(path string) (string, error) {
	abs, err := clean(path)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(abs)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return "", fmt.Errorf("parent directory does not exist: %s", dir)
	}
	return abs, nil
}

// IsWithinDirectory reports whether path is dir or lies beneath it.
func IsWithinDirectory(path, dir string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}
	if absPath == absDir {
		return true, nil
	}
	return strings.HasPrefix(absPath, strings.TrimSuffix(absDir, string(filepath.Separator))+string(filepath.Separator)), nil
}
