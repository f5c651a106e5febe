package display

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	tables, err := Load("")
	require.NoError(t, err)

	assert.NotEmpty(t, tables.Version)
	assert.Equal(t, "Spring Meeting", tables.Season("1"))
	assert.Equal(t, "Round 3", tables.Round("3"))
	assert.Equal(t, "Grade 1", tables.GameType("G1"))
	assert.Equal(t, "Day", tables.Session("day"))
}

func TestUnknownCodeFallsBack(t *testing.T) {
	tables, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "X9", tables.GameType("X9"))
}

func TestLoadOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"2027.1\"\nseasons:\n  \"1\": Opening\n"), 0o644))

	tables, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "2027.1", tables.Version)
	assert.Equal(t, "Opening", tables.Season("1"))
	assert.Equal(t, "3", tables.Round("3"))
}

func TestParseRequiresVersion(t *testing.T) {
	_, err := Parse([]byte("seasons: {}\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
