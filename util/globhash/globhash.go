// Package globhash computes a stable content hash over the files in a
// directory that match a set of glob patterns. The hash changes when a
// matched file's path or content changes, which makes it usable as a
// freshness token for caches keyed on mutable source directories.
package globhash

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/opencontainers/go-digest"
	"github.com/zeebo/xxh3"

	"github.com/prefix-dev/pixi-go/util/cachemap"
)

// Hash is the result of hashing a glob set.
type Hash struct {
	// Digest covers the relative paths and contents of all matched files in
	// lexicographic order.
	Digest digest.Digest

	// MatchedFiles is the number of files that contributed to the digest.
	MatchedFiles int
}

// Compute walks root and hashes every regular file matching at least one of
// the glob patterns. Patterns prefixed with "!" exclude matches instead.
// Patterns use forward slashes regardless of platform.
func Compute(root string, globs []string) (Hash, error) {
	var include, exclude []string
	for _, g := range globs {
		if after, ok := strings.CutPrefix(g, "!"); ok {
			exclude = append(exclude, after)
		} else {
			include = append(include, g)
		}
	}

	h := xxh3.New()
	matched := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Never descend into git administrative directories.
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !matchAny(include, rel) || matchAny(exclude, rel) {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, _ = io.WriteString(h, rel)
		_, _ = io.WriteString(h, "\x00")
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		_, _ = io.WriteString(h, "\x00")
		matched++
		return nil
	})
	if err != nil {
		return Hash{}, fmt.Errorf("hashing globs under %s: %w", root, err)
	}

	sum := h.Sum128().Bytes()
	return Hash{
		Digest:       digest.Digest(fmt.Sprintf("xxh3:%x", sum[:])),
		MatchedFiles: matched,
	}, nil
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// Key identifies one glob-hash computation.
type Key struct {
	Root  string
	Globs string
}

// Cache coalesces and memoizes glob-hash computations. It is safe for
// concurrent use; identical in-flight computations are deduplicated.
type Cache struct {
	inner *cachemap.CacheMap[Key, Hash]
}

func NewCache() *Cache {
	return &Cache{inner: cachemap.New[Key, Hash]()}
}

// Compute returns the hash for (root, globs), computing it at most once.
func (c *Cache) Compute(ctx context.Context, root string, globs []string) (Hash, error) {
	key := Key{Root: root, Globs: strings.Join(globs, "\x00")}
	h, _, err := c.inner.GetOrInit(ctx, key, func(context.Context) (Hash, error) {
		return Compute(root, globs)
	})
	return h, err
}
