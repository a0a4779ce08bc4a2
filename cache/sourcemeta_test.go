package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prefix-dev/pixi-go/platform"
	"github.com/prefix-dev/pixi-go/record"
	"github.com/prefix-dev/pixi-go/util/globhash"
)

func TestSourceMetadataCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := NewSourceMetadataCache(filepath.Join(dir, "meta"), nil)

	key := SourceMetadataKey{SourceIdentity: "sha256:abc", HostPlatform: platform.Linux64}
	entry := &SourceMetadataEntry{
		Records: []record.SourceRecord{{
			PackageRecord: record.PackageRecord{Name: "foo", Version: "1.0"},
		}},
	}
	require.NoError(t, c.Store(key, entry))

	// a fresh cache instance reads it back from disk
	c2 := NewSourceMetadataCache(filepath.Join(dir, "meta"), nil)
	got, ok := c2.Get(context.Background(), key, dir)
	require.True(t, ok)
	require.Equal(t, "foo", got.Records[0].Name)

	_, ok = c2.Get(context.Background(), SourceMetadataKey{SourceIdentity: "sha256:other"}, dir)
	require.False(t, ok)
}

func TestSourceMetadataCacheStaleInputHash(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "manifest.toml"), []byte("v1"), 0o644))

	hashes := globhash.NewCache()
	h, err := hashes.Compute(context.Background(), src, []string{"manifest.toml"})
	require.NoError(t, err)

	c := NewSourceMetadataCache(filepath.Join(dir, "meta"), hashes)
	key := SourceMetadataKey{SourceIdentity: "sha256:abc", HostPlatform: platform.Linux64}
	require.NoError(t, c.Store(key, &SourceMetadataEntry{
		InputGlobs: []string{"manifest.toml"},
		InputHash:  h.Digest,
	}))

	_, ok := c.Get(context.Background(), key, src)
	require.True(t, ok)

	// changed inputs invalidate the entry on the next lookup
	require.NoError(t, os.WriteFile(filepath.Join(src, "manifest.toml"), []byte("v2"), 0o644))
	c2 := NewSourceMetadataCache(filepath.Join(dir, "meta"), globhash.NewCache())
	_, ok = c2.Get(context.Background(), key, src)
	require.False(t, ok)
}

func TestDirsLayout(t *testing.T) {
	d := NewDirs("/opt/cache")
	require.Equal(t, "/opt/cache", d.Root())
	require.Equal(t, filepath.Join("/opt/cache", "git"), d.Git())
	require.Equal(t, filepath.Join("/opt/cache", "pkgs"), d.Packages())
	require.Equal(t, filepath.Join("/opt/cache", "build-backends"), d.BuildBackends())
	require.Contains(t, d.SourceMetadata(), "source-metadata-")

	ws := d.WithWorkspace("/proj/.pixi")
	require.Contains(t, ws.SourceMetadata(), filepath.Join("/proj/.pixi", "cache"))
	require.Equal(t, filepath.Join("/opt/cache", "git"), ws.Git())
}
