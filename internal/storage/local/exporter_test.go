package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "archive")
	_, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewRejectsInvalidDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = New(Config{BaseDir: file})
	assert.Error(t, err)
}

func TestExportCopiesAndReplaces(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "banks.csv")
	require.NoError(t, os.WriteFile(src, []byte("Name,Link\nA,x\n"), 0o600))

	archive := t.TempDir()
	exp, err := New(Config{BaseDir: archive})
	require.NoError(t, err)

	uri, err := exp.Export(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(archive, "banks.csv"), uri)

	require.NoError(t, os.WriteFile(src, []byte("Name,Link\nA,x\nB,y\n"), 0o600))
	_, err = exp.Export(context.Background(), src)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(archive, "banks.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Name,Link\nA,x\nB,y\n", string(got))

	entries, err := os.ReadDir(archive)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestExportMissingSource(t *testing.T) {
	t.Parallel()

	exp, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	_, err = exp.Export(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
