package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opencontainers/go-digest"

	"github.com/prefix-dev/pixi-go/platform"
	"github.com/prefix-dev/pixi-go/record"
	"github.com/prefix-dev/pixi-go/util/globhash"
	"github.com/prefix-dev/pixi-go/util/slog"
)

const sourceMetadataMemEntries = 512

// SourceMetadataKey identifies one metadata query: which pinned source, for
// which host platform, under which variant configuration.
type SourceMetadataKey struct {
	SourceIdentity digest.Digest
	HostPlatform   platform.Platform
	Variants       map[string][]string
}

func (k SourceMetadataKey) digest() digest.Digest {
	// Variants are hashed in sorted order so the key is stable.
	names := make([]string, 0, len(k.Variants))
	for name := range k.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	s := string(k.SourceIdentity) + "\x00" + string(k.HostPlatform)
	for _, name := range names {
		s += "\x00" + name + "="
		for _, v := range k.Variants[name] {
			s += v + ","
		}
	}
	return digest.FromString(s)
}

// SourceMetadataEntry is a cached metadata result. Entries for mutable (path)
// sources carry the glob hash of the inputs that produced them; a lookup
// recomputes the hash and discards the entry when the inputs changed.
type SourceMetadataEntry struct {
	Records    []record.SourceRecord `json:"records"`
	InputGlobs []string              `json:"input_globs,omitempty"`
	InputHash  digest.Digest         `json:"input_hash,omitempty"`
}

// SourceMetadataCache is a disk-backed cache of source package metadata with
// an in-memory LRU layer. It supports concurrent reads and safe concurrent
// population: the first successful write for a key wins.
type SourceMetadataCache struct {
	dir    string
	mem    *lru.Cache[digest.Digest, *SourceMetadataEntry]
	hashes *globhash.Cache
}

func NewSourceMetadataCache(dir string, hashes *globhash.Cache) *SourceMetadataCache {
	mem, _ := lru.New[digest.Digest, *SourceMetadataEntry](sourceMetadataMemEntries)
	if hashes == nil {
		hashes = globhash.NewCache()
	}
	return &SourceMetadataCache{dir: dir, mem: mem, hashes: hashes}
}

// Get returns the cached entry for key, or false when absent or stale.
// sourceDir is the checkout the entry describes; it is only consulted to
// validate input hashes of mutable sources.
func (c *SourceMetadataCache) Get(ctx context.Context, key SourceMetadataKey, sourceDir string) (*SourceMetadataEntry, bool) {
	d := key.digest()

	entry, ok := c.mem.Get(d)
	if !ok {
		var err error
		entry, err = c.read(d)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Default().Warn("discarding unreadable source metadata cache entry", "key", d, "error", err)
			}
			return nil, false
		}
	}

	if len(entry.InputGlobs) > 0 {
		h, err := c.hashes.Compute(ctx, sourceDir, entry.InputGlobs)
		if err != nil || h.Digest != entry.InputHash {
			c.mem.Remove(d)
			return nil, false
		}
	}

	c.mem.Add(d, entry)
	return entry, true
}

// Store persists the entry for key.
func (c *SourceMetadataCache) Store(key SourceMetadataKey, entry *SourceMetadataEntry) error {
	d := key.digest()
	c.mem.Add(d, entry)

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding source metadata entry: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path(d))
}

func (c *SourceMetadataCache) read(d digest.Digest) (*SourceMetadataEntry, error) {
	data, err := os.ReadFile(c.path(d))
	if err != nil {
		return nil, err
	}
	var entry SourceMetadataEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *SourceMetadataCache) path(d digest.Digest) string {
	return filepath.Join(c.dir, d.Encoded()+".json")
}
