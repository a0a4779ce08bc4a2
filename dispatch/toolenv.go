package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/zeebo/xxh3"

	"github.com/prefix-dev/pixi-go/platform"
	"github.com/prefix-dev/pixi-go/record"
)

// ToolEnvironmentSpec asks for an installed environment providing a build
// backend package. Identical specs map to the same prefix on disk.
type ToolEnvironmentSpec struct {
	Requirement record.MatchSpec
	Channels    []string
	Platform    platform.Platform
}

// ToolEnvironment is a usable installed tool prefix.
type ToolEnvironment struct {
	Name     string
	Prefix   string
	CacheKey string
}

// cacheKey derives the prefix directory name from the spec's content:
// "<package>-<base64(xxh3(spec))>". Any change to the requirement, channels
// or platform yields a different prefix.
func (s ToolEnvironmentSpec) cacheKey() (string, error) {
	h, err := hashstructure.Hash(s, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("hashing tool environment spec: %w", err)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], h)
	binary.LittleEndian.PutUint64(buf[:], xxh3.Hash(buf[:]))
	return s.Requirement.Name + "-" + base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

// instantiateToolEnvironment resolves and installs the tool environment at
// its cache-keyed prefix. A prefix that already carries the ready sentinel is
// reused without solving; a file lock guards against other processes
// installing the same prefix concurrently.
func (d *Dispatcher) instantiateToolEnvironment(ctx context.Context, s ToolEnvironmentSpec) (*ToolEnvironment, error) {
	if s.Platform == "" {
		s.Platform = d.state.toolPlatform
	}
	key, err := s.cacheKey()
	if err != nil {
		return nil, err
	}
	prefix := filepath.Join(d.state.dirs.BuildBackends(), key)
	env := &ToolEnvironment{Name: s.Requirement.Name, Prefix: prefix, CacheKey: key}

	if err := os.MkdirAll(d.state.dirs.BuildBackends(), 0o755); err != nil {
		return nil, err
	}
	guard := flock.New(prefix + ".lock")
	if _, err := guard.TryLockContext(ctx, 100*time.Millisecond); err != nil {
		return nil, fmt.Errorf("locking tool prefix %s: %w", prefix, err)
	}
	defer guard.Unlock()

	sentinel := prefix + ".ok"
	if _, err := os.Stat(sentinel); err == nil {
		d.state.log.TraceContext(ctx, "reusing installed tool environment",
			"tool", s.Requirement.Name, "prefix", prefix)
		return env, nil
	}

	records, err := d.SolveEnvironment(ctx, EnvironmentSpec{
		Name:         "tool/" + s.Requirement.Name,
		Dependencies: []Dependency{{Spec: s.Requirement}},
		Channels:     s.Channels,
		Platform:     s.Platform,
	})
	if err != nil {
		return nil, fmt.Errorf("solving tool environment %q: %w", s.Requirement.Name, err)
	}

	binaryRecs, sourceRecs := splitRecords(records)
	if err := d.InstallEnvironment(ctx, InstallSpec{
		Prefix:  prefix,
		Binary:  binaryRecs,
		Sources: sourceRecs,
	}); err != nil {
		return nil, fmt.Errorf("installing tool environment %q: %w", s.Requirement.Name, err)
	}

	if err := os.WriteFile(sentinel, nil, 0o644); err != nil {
		return nil, err
	}
	d.state.log.ExtraDebugContext(ctx, "installed tool environment",
		"tool", s.Requirement.Name, "prefix", prefix, "records", len(records))
	return env, nil
}
