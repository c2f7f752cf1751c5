package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pragma(t *testing.T, d *Database, name string) string {
	t.Helper()
	var v string
	require.NoError(t, d.DB.QueryRow("PRAGMA "+name).Scan(&v))
	return v
}

func TestNewFileDatabaseAppliesPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tradebot.db")
	database, err := New(path)
	require.NoError(t, err)
	defer database.Close()

	assert.FileExists(t, path)
	assert.Equal(t, "wal", pragma(t, database, "journal_mode"))
	assert.Equal(t, "5000", pragma(t, database, "busy_timeout"))
	assert.Equal(t, "1", pragma(t, database, "foreign_keys"))
	require.NoError(t, ApplyMigrations(database))
}

func TestNewMemoryDatabase(t *testing.T) {
	database, err := New(MemoryPath)
	require.NoError(t, err)
	defer database.Close()

	assert.Equal(t, MemoryPath, database.Path)
	assert.Equal(t, "memory", pragma(t, database, "journal_mode"))
	assert.Equal(t, "5000", pragma(t, database, "busy_timeout"))
	assert.NoFileExists(t, MemoryPath)
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
