package jsondoc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/homecharge/core/errs"
)

type doc struct {
	Name  string         `json:"name"`
	Count map[string]int `json:"count"`
}

func TestLoadMissing(t *testing.T) {
	var d doc
	found, err := Load(filepath.Join(t.TempDir(), "nope.json"), &d)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")
	in := doc{Name: "a", Count: map[string]int{"x": 1}}
	require.NoError(t, Save(path, in))

	var out doc
	found, err := Load(path, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var d doc
	found, err := Load(path, &d)
	assert.True(t, found)
	assert.True(t, errs.Is(err, errs.KindCorrupt))
}

func TestSaveFailureKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, Save(path, doc{Name: "old"}))

	err := Save(path, map[string]any{"bad": func() {}})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))

	var d doc
	_, err = Load(path, &d)
	require.NoError(t, err)
	assert.Equal(t, "old", d.Name)
}
