package db

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultFileName is the database file name inside the data directory.
const DefaultFileName = "mofasa.db"

// Location describes where the database file should live.
type Location struct {
	// DataDir is the user-writable directory that ends up holding the file.
	DataDir  string
	FileName string
	// Packaged enables the bundled seed search below.
	Packaged bool
	// ResourcePaths are searched in order for a bundled seed database.
	ResourcePaths []string
}

// Resolved is the outcome of ResolveDatabasePath.
type Resolved struct {
	Path string
	// SeededFrom is the bundled file copied into Path on this call, if any.
	SeededFrom string
}

// ResolveDatabasePath returns the file path the store should open. In
// packaged mode a missing user file is seeded from the first bundled copy
// found under ResourcePaths.
func ResolveDatabasePath(loc Location) (Resolved, error) {
	if loc.DataDir == "" {
		return Resolved{}, errors.New("data dir is required")
	}
	name := loc.FileName
	if name == "" {
		name = DefaultFileName
	}
	if err := os.MkdirAll(loc.DataDir, 0o755); err != nil {
		return Resolved{}, fmt.Errorf("create data dir: %w", err)
	}
	target := filepath.Join(loc.DataDir, name)
	out := Resolved{Path: target}
	if !loc.Packaged {
		return out, nil
	}
	if _, err := os.Stat(target); err == nil {
		return out, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return out, fmt.Errorf("check database file: %w", err)
	}

	for _, dir := range loc.ResourcePaths {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if err := copyFile(candidate, target); err != nil {
			return out, fmt.Errorf("seed database from %s: %w", candidate, err)
		}
		out.SeededFrom = candidate
		return out, nil
	}
	return out, nil
}

// copyFile writes src to dst through a temp file so a crash never leaves a
// truncated database behind.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".seed-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
