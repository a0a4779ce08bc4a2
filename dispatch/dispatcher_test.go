package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prefix-dev/pixi-go/backend"
	"github.com/prefix-dev/pixi-go/cache"
	"github.com/prefix-dev/pixi-go/platform"
	"github.com/prefix-dev/pixi-go/record"
	"github.com/prefix-dev/pixi-go/source"
	"github.com/prefix-dev/pixi-go/util/pathutil"
)

func newTestDispatcher(t *testing.T, root string, configure func(*Builder)) *Dispatcher {
	t.Helper()
	b := NewBuilder().
		WithRoot(root).
		WithCacheDirs(cache.NewDirs(filepath.Join(root, ".cache")))
	if configure != nil {
		configure(b)
	}
	d := b.Finish()
	t.Cleanup(d.Close)
	return d
}

func writeSource(t *testing.T, root, dir, manifest string) string {
	t.Helper()
	path := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, backend.ManifestName), []byte(manifest), 0o644))
	return path
}

type countingBackend struct {
	inner backend.Backend
	calls atomic.Int32
}

func (b *countingBackend) Metadata(ctx context.Context, req backend.MetadataRequest) ([]backend.PackageOutput, error) {
	b.calls.Add(1)
	return b.inner.Metadata(ctx, req)
}

type blockingBackend struct {
	enterOnce sync.Once
	entered   chan struct{}
	release   chan struct{}
}

func newBlockingBackend() *blockingBackend {
	return &blockingBackend{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingBackend) Metadata(ctx context.Context, req backend.MetadataRequest) ([]backend.PackageOutput, error) {
	b.enterOnce.Do(func() { close(b.entered) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		return []backend.PackageOutput{{Name: "foo", Version: "1.0", Build: "src_0"}}, nil
	}
}

type stubGateway struct {
	records []record.BinaryRecord
	calls   atomic.Int32
}

func (g *stubGateway) Query(context.Context, []string, []platform.Platform, []string) ([]record.BinaryRecord, error) {
	g.calls.Add(1)
	return g.records, nil
}

type countingInstaller struct {
	inner Installer
	calls atomic.Int32
}

func (i *countingInstaller) Install(ctx context.Context, spec InstallSpec) error {
	i.calls.Add(1)
	return i.inner.Install(ctx, spec)
}

func TestSourceMetadataDedup(t *testing.T) {
	root := t.TempDir()
	dir := writeSource(t, root, "foo", "[package]\nname = \"foo\"\nversion = \"1.0\"\n")
	counting := &countingBackend{inner: backend.TOMLBackend{}}
	d := newTestDispatcher(t, root, func(b *Builder) { b.WithBackend(counting) })

	spec := SourceMetadataSpec{
		Source:       source.Pinned{Path: &source.PinnedPathSpec{Path: dir}},
		HostPlatform: platform.Linux64,
	}

	const n = 16
	results := make([]*SourceMetadata, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = d.SourceMetadata(context.Background(), spec)
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}

	require.Equal(t, int32(1), counting.calls.Load())
	for i := 1; i < n; i++ {
		// coalesced and retained results share the same value
		require.Same(t, results[0], results[i])
	}
	require.Len(t, results[0].Records, 1)
	require.Equal(t, "foo", results[0].Records[0].Name)
}

func TestCloseCancelsPendingRequests(t *testing.T) {
	root := t.TempDir()
	dir := writeSource(t, root, "foo", "[package]\nname = \"foo\"\n")
	blocking := newBlockingBackend()
	d := newTestDispatcher(t, root, func(b *Builder) { b.WithBackend(blocking) })

	spec := SourceMetadataSpec{
		Source:       source.Pinned{Path: &source.PinnedPathSpec{Path: dir}},
		HostPlatform: platform.Linux64,
	}

	errs := make(chan error, 1)
	go func() {
		_, err := d.SourceMetadata(context.Background(), spec)
		errs <- err
	}()

	select {
	case <-blocking.entered:
	case <-time.After(10 * time.Second):
		t.Fatal("backend never invoked")
	}
	d.Close()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrCancelled)
	case <-time.After(10 * time.Second):
		t.Fatal("pending request did not resolve after close")
	}

	// a closed dispatcher rejects new work immediately
	_, err := d.SourceMetadata(context.Background(), spec)
	require.ErrorIs(t, err, ErrCancelled)
}

func TestCallerContextCancellation(t *testing.T) {
	root := t.TempDir()
	dir := writeSource(t, root, "foo", "[package]\nname = \"foo\"\n")
	blocking := newBlockingBackend()
	d := newTestDispatcher(t, root, func(b *Builder) { b.WithBackend(blocking) })

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := d.SourceMetadata(ctx, SourceMetadataSpec{
			Source:       source.Pinned{Path: &source.PinnedPathSpec{Path: dir}},
			HostPlatform: platform.Linux64,
		})
		errs <- err
	}()

	select {
	case <-blocking.entered:
	case <-time.After(10 * time.Second):
		t.Fatal("backend never invoked")
	}
	cancel()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("request did not observe cancellation")
	}
}

func TestPinAndCheckoutPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "b"), 0o755))
	d := newTestDispatcher(t, root, nil)

	checkout, err := d.PinAndCheckout(context.Background(), source.Spec{
		Path: &source.PathSpec{Path: "a/../b"},
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "b"), checkout.Path)
	require.NotNil(t, checkout.Pinned.Path)

	_, err = d.PinAndCheckout(context.Background(), source.Spec{
		Path: &source.PathSpec{Path: strings.Repeat("../", 40) + "etc/passwd"},
	})
	require.ErrorIs(t, err, pathutil.ErrEscapesRoot)
}

func TestPinAndCheckoutURLUnsupported(t *testing.T) {
	d := newTestDispatcher(t, t.TempDir(), nil)

	_, err := d.PinAndCheckout(context.Background(), source.Spec{
		URL: &source.URLSpec{URL: "https://example.com/pkg.tar.gz"},
	})
	require.ErrorIs(t, err, source.ErrURLNotSupported)
}

func TestToolEnvironmentInstalledOnce(t *testing.T) {
	root := t.TempDir()
	manifest := "[package]\nname = \"%s\"\n\n[build]\nbackend = \"mytool >=1\"\n"
	writeSource(t, root, "foo", strings.ReplaceAll(manifest, "%s", "foo"))
	writeSource(t, root, "bar", strings.ReplaceAll(manifest, "%s", "bar"))

	gateway := &stubGateway{records: []record.BinaryRecord{{
		PackageRecord: record.PackageRecord{Name: "mytool", Version: "1.0", Build: "h0", Subdir: "linux-64"},
	}}}
	installer := &countingInstaller{inner: condaMetaInstaller{}}
	d := newTestDispatcher(t, root, func(b *Builder) {
		b.WithGateway(gateway).WithInstaller(installer)
	})

	for _, dir := range []string{"foo", "bar"} {
		_, err := d.SourceMetadata(context.Background(), SourceMetadataSpec{
			Source:       source.Pinned{Path: &source.PinnedPathSpec{Path: filepath.Join(root, dir)}},
			HostPlatform: d.ToolPlatform(),
		})
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), installer.calls.Load())

	// a second dispatcher over the same caches reuses the ready prefix
	// without solving or installing again
	installer2 := &countingInstaller{inner: condaMetaInstaller{}}
	d2 := newTestDispatcher(t, root, func(b *Builder) {
		b.WithGateway(gateway).WithInstaller(installer2)
	})
	env, err := d2.InstantiateToolEnvironment(context.Background(), ToolEnvironmentSpec{
		Requirement: record.MatchSpec{Name: "mytool", Constraint: ">=1"},
	})
	require.NoError(t, err)
	require.Equal(t, int32(0), installer2.calls.Load())
	require.FileExists(t, env.Prefix+".ok")
}

func TestInstallEnvironmentWritesCondaMeta(t *testing.T) {
	root := t.TempDir()
	d := newTestDispatcher(t, root, nil)

	prefix := filepath.Join(root, "env")
	err := d.InstallEnvironment(context.Background(), InstallSpec{
		Prefix: prefix,
		Binary: []record.BinaryRecord{{
			PackageRecord: record.PackageRecord{Name: "python", Version: "3.12.1", Build: "h0"},
		}},
	})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(prefix, "conda-meta", "python-3.12.1-h0.json"))
}
