package account

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_GeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()

	identity := NewIdentity(dir)
	id, err := identity.DeviceID()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = uuid.Parse(id)
	assert.NoError(t, err, "generated device id should be a UUID")

	// Cached value is returned on subsequent calls
	again, err := identity.DeviceID()
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// A fresh store over the same directory reads the persisted id
	reloaded, err := NewIdentity(dir).DeviceID()
	require.NoError(t, err)
	assert.Equal(t, id, reloaded)
}

func TestIdentity_FileContents(t *testing.T) {
	dir := t.TempDir()

	id, err := NewIdentity(dir).DeviceID()
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, identityFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), id)
}

func TestIdentity_RegeneratesOnCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, identityFileName)
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

	id, err := NewIdentity(dir).DeviceID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// The corrupt file is replaced with a valid record
	reloaded, err := NewIdentity(dir).DeviceID()
	require.NoError(t, err)
	assert.Equal(t, id, reloaded)
}

func TestIdentity_CreatesConfigDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "config")

	id, err := NewIdentity(dir).DeviceID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestHostname(t *testing.T) {
	assert.NotEmpty(t, Hostname())
}
