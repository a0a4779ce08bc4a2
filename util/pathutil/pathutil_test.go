package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveRelative(t *testing.T) {
	got, err := Resolve("a/../b", filepath.FromSlash("/work"))
	require.NoError(t, err)
	require.Equal(t, filepath.FromSlash("/work/b"), got)
}

func TestResolveAbsolute(t *testing.T) {
	abs := filepath.FromSlash("/somewhere/else")
	got, err := Resolve(abs, filepath.FromSlash("/work"))
	require.NoError(t, err)
	require.Equal(t, abs, got)
}

func TestResolveEscapesRoot(t *testing.T) {
	_, err := Resolve("../../etc/passwd", filepath.FromSlash("/work"))
	require.ErrorIs(t, err, ErrEscapesRoot)

	var invalid *InvalidPathError
	require.ErrorAs(t, err, &invalid)
}

func TestResolveHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := Resolve("~/project", "/work")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "project"), got)
}

func TestResolveCurrentDirComponents(t *testing.T) {
	got, err := Resolve("./x/./y", filepath.FromSlash("/work"))
	require.NoError(t, err)
	require.Equal(t, filepath.FromSlash("/work/x/y"), got)
}

func TestNormalizeAbsoluteRootParent(t *testing.T) {
	_, err := NormalizeAbsolute(filepath.FromSlash("/work/../.."))
	require.ErrorIs(t, err, ErrEscapesRoot)
}
