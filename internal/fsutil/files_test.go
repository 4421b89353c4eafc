package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic_SetsContentAndModTime(t *testing.T) {
	var f Files
	path := filepath.Join(t.TempDir(), "nested", "a.json")
	const mod = int64(1_600_000_000_123)

	require.NoError(t, f.WriteAtomic(path, []byte(`{"value":1}`), mod))

	data, modMs, err := f.Read(path)
	require.NoError(t, err)
	assert.Equal(t, `{"value":1}`, string(data))
	assert.Equal(t, mod, modMs)

	names, err := f.List(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json"}, names, "no temporary files left behind")
}

func TestWriteAtomic_Overwrites(t *testing.T) {
	var f Files
	path := filepath.Join(t.TempDir(), "a.json")

	require.NoError(t, f.WriteAtomic(path, []byte("one"), 1000))
	require.NoError(t, f.WriteAtomic(path, []byte("two"), 2000))

	data, modMs, err := f.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
	assert.Equal(t, int64(2000), modMs)
}

func TestRead_Missing(t *testing.T) {
	var f Files
	_, _, err := f.Read(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestTouchAndStat(t *testing.T) {
	var f Files
	path := filepath.Join(t.TempDir(), "a.json")
	require.NoError(t, f.WriteAtomic(path, []byte("x"), 1000))

	require.NoError(t, f.Touch(path, 5000))
	modMs, err := f.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), modMs)
}

func TestRemove_MissingIsNotAnError(t *testing.T) {
	var f Files
	assert.NoError(t, f.Remove(filepath.Join(t.TempDir(), "nope")))
}

func TestList_SkipsTempAndDirs(t *testing.T) {
	var f Files
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-a.json-123"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	names, err := f.List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b.json"}, names)

	missing, err := f.List(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}
