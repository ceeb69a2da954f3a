package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWrite(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "test.txt")
	data := []byte("hello world")

	err := AtomicWrite(path, data, 0600)
	require.NoError(t, err)

	// Verify file exists with correct content
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, content)

	// Verify permissions
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// Verify no temp file was left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAtomicWrite_OverwriteExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")

	err := AtomicWrite(path, []byte("initial"), 0600)
	require.NoError(t, err)

	err = AtomicWrite(path, []byte("updated"), 0600)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("updated"), content)
}

func TestAtomicWrite_DirectoryNotExist(t *testing.T) {
	path := "/nonexistent/dir/test.txt"

	err := AtomicWrite(path, []byte("data"), 0600)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create temp file")
}

func TestAtomicWrite_EmptyData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")

	err := AtomicWrite(path, []byte{}, 0600)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestAtomicWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	err := AtomicWriteJSON(path, record{Name: "primary", Count: 3}, 0600)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"name": "primary"`)
	assert.Contains(t, string(content), `"count": 3`)
}

func TestAtomicWriteJSON_MarshalError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")

	// Channels cannot be marshalled
	err := AtomicWriteJSON(path, make(chan int), 0600)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal json")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
