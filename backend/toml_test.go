package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prefix-dev/pixi-go/platform"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(content), 0o644))
	return dir
}

func TestTOMLBackendMetadata(t *testing.T) {
	dir := writeManifest(t, `
[package]
name = "foo"
version = "1.2.3"

[dependencies]
python = ">=3.9"

[source-dependencies.bar]
path = "../bar"

[build-dependencies.tool]
git = "https://example.com/tool"
branch = "main"
version = ">=2"
`)

	outputs, err := TOMLBackend{}.Metadata(context.Background(), MetadataRequest{
		SourceDir:    dir,
		HostPlatform: platform.Linux64,
	})
	require.NoError(t, err)
	require.Len(t, outputs, 1)

	out := outputs[0]
	require.Equal(t, "foo", out.Name)
	require.Equal(t, "1.2.3", out.Version)
	require.Equal(t, string(platform.Linux64), out.Subdir)
	require.ElementsMatch(t, []string{"python >=3.9", "bar"}, out.Depends)
	require.Equal(t, []string{"tool >=2"}, out.BuildDepends)

	require.Contains(t, out.Sources, "bar")
	require.NotNil(t, out.Sources["bar"].Path)
	require.Equal(t, "../bar", out.Sources["bar"].Path.Path)

	require.Contains(t, out.Sources, "tool")
	require.NotNil(t, out.Sources["tool"].Git)
	require.Equal(t, "main", out.Sources["tool"].Git.Branch)

	require.Equal(t, []string{ManifestName}, out.InputGlobs)
}

func TestTOMLBackendMissingManifest(t *testing.T) {
	_, err := TOMLBackend{}.Metadata(context.Background(), MetadataRequest{SourceDir: t.TempDir()})
	require.ErrorIs(t, err, ErrNoManifest)
}

func TestTOMLBackendMissingName(t *testing.T) {
	dir := writeManifest(t, `[package]
version = "1.0"
`)
	_, err := TOMLBackend{}.Metadata(context.Background(), MetadataRequest{SourceDir: dir})
	require.Error(t, err)
}

func TestDiscover(t *testing.T) {
	dir := writeManifest(t, `
[package]
name = "foo"

[build]
backend = "pixi-build-rattler >=0.1"
input-globs = ["src/**"]
`)

	got, err := Discover(dir)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "pixi-build-rattler", got.Requirement.Name)
	require.Equal(t, ">=0.1", got.Requirement.Constraint)
}

func TestDiscoverNoBackend(t *testing.T) {
	dir := writeManifest(t, `[package]
name = "foo"
`)
	got, err := Discover(dir)
	require.NoError(t, err)
	require.Nil(t, got)
}
