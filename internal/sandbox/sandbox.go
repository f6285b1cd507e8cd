// Package sandbox guards the files pagecheck writes. Screenshot paths come
// from task files, so every write is checked against the configured output
// roots before it touches disk.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Sandbox restricts writes to allowed directories and caps their size.
type Sandbox struct {
	allowedPaths []string
	deniedPaths  []string
	maxFileSize  int64 // bytes, 0 means unlimited
}

// Config holds the sandbox configuration.
type Config struct {
	AllowedPaths []string
	DeniedPaths  []string
	MaxFileSize  string // e.g. "10MB", "500KB"
}

// New creates a Sandbox from the given configuration.
// Allowed and denied paths are resolved to absolute paths.
func New(cfg Config) (*Sandbox, error) {
	s := &Sandbox{}

	for _, p := range cfg.AllowedPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolve allowed path %q: %w", p, err)
		}
		s.allowedPaths = append(s.allowedPaths, abs)
	}

	for _, p := range cfg.DeniedPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolve denied path %q: %w", p, err)
		}
		s.deniedPaths = append(s.deniedPaths, abs)
	}

	if cfg.MaxFileSize != "" {
		size, err := parseFileSize(cfg.MaxFileSize)
		if err != nil {
			return nil, fmt.Errorf("sandbox: parse max_file_size %q: %w", cfg.MaxFileSize, err)
		}
		s.maxFileSize = size
	}

	return s, nil
}

// CheckPath returns nil if path may be written. Denied paths take
// precedence; with no allowed paths configured anything not denied is
// writable.
func (s *Sandbox) CheckPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("sandbox: resolve path %q: %w", path, err)
	}

	for _, denied := range s.deniedPaths {
		if within(abs, denied) {
			return fmt.Errorf("sandbox: path %q is under denied path %q", abs, denied)
		}
	}

	if len(s.allowedPaths) == 0 {
		return nil
	}

	for _, allowed := range s.allowedPaths {
		if within(abs, allowed) {
			return nil
		}
	}

	return fmt.Errorf("sandbox: path %q is not under any allowed path %v", abs, s.allowedPaths)
}

func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// CheckFileSize validates size against the configured maximum.
func (s *Sandbox) CheckFileSize(size int64) error {
	if s.maxFileSize <= 0 {
		return nil
	}
	if size > s.maxFileSize {
		return fmt.Errorf("sandbox: file size %d bytes exceeds maximum %d bytes (%s)",
			size, s.maxFileSize, formatFileSize(s.maxFileSize))
	}
	return nil
}

// WriteFile checks path and size, creates missing parent directories and
// replaces any existing file. The data is written to a temporary file in
// the same directory first, so a reader never sees a half-written image.
func (s *Sandbox) WriteFile(path string, data []byte) error {
	if err := s.CheckPath(path); err != nil {
		return err
	}
	if err := s.CheckFileSize(int64(len(data))); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// AllowedPaths returns the list of allowed absolute paths.
func (s *Sandbox) AllowedPaths() []string {
	return s.allowedPaths
}

// parseFileSize parses a human-readable file size string into bytes.
// Supported suffixes: B, KB, MB, GB, TB (case-insensitive).
func parseFileSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	suffixes := []struct {
		suffix     string
		multiplier int64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}

	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(s, sf.suffix))
			n, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q", numStr)
			}
			return int64(n * float64(sf.multiplier)), nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid file size %q", s)
	}
	return n, nil
}

func formatFileSize(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1fGB", float64(bytes)/(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(bytes)/(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(bytes)/(1<<10))
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}
