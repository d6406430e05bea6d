package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDatabasePathUserDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	res, err := ResolveDatabasePath(Location{DataDir: dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultFileName), res.Path)
	assert.Empty(t, res.SeededFrom)
	assert.DirExists(t, dir)
}

func TestResolveDatabasePathSeedsFromBundle(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(root, "missing")
	bundled := filepath.Join(root, "resources")
	require.NoError(t, os.MkdirAll(bundled, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bundled, "study.db"), []byte("seed"), 0o644))

	data := filepath.Join(root, "user")
	loc := Location{DataDir: data, FileName: "study.db", Packaged: true, ResourcePaths: []string{"", missing, bundled}}
	res, err := ResolveDatabasePath(loc)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(bundled, "study.db"), res.SeededFrom)
	content, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "seed", string(content))

	// An existing user file is never overwritten.
	require.NoError(t, os.WriteFile(res.Path, []byte("mine"), 0o644))
	res, err = ResolveDatabasePath(loc)
	require.NoError(t, err)
	assert.Empty(t, res.SeededFrom)
	content, err = os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "mine", string(content))
}

func TestResolveDatabasePathRequiresDataDir(t *testing.T) {
	_, err := ResolveDatabasePath(Location{})
	require.Error(t, err)
}
