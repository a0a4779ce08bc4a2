package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prefix-dev/pixi-go/record"
)

// InstallSpec asks for a resolved record set to be materialized at a prefix.
type InstallSpec struct {
	Prefix  string
	Binary  []record.BinaryRecord
	Sources []record.SourceRecord
}

// Installer materializes resolved environments on disk. The real linker is an
// external collaborator; the default only writes conda-meta manifests.
type Installer interface {
	Install(ctx context.Context, spec InstallSpec) error
}

// condaMetaInstaller records what would be installed by writing one
// conda-meta JSON file per record into the prefix, without linking any
// package contents.
type condaMetaInstaller struct{}

func (condaMetaInstaller) Install(ctx context.Context, spec InstallSpec) error {
	metaDir := filepath.Join(spec.Prefix, "conda-meta")
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return err
	}

	write := func(rec record.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		pkg := rec.Package()
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding record %q: %w", pkg.Name, err)
		}
		name := fmt.Sprintf("%s-%s-%s.json", pkg.Name, pkg.Version, pkg.Build)
		return os.WriteFile(filepath.Join(metaDir, name), data, 0o644)
	}

	for i := range spec.Binary {
		if err := write(&spec.Binary[i]); err != nil {
			return err
		}
	}
	for i := range spec.Sources {
		if err := write(&spec.Sources[i]); err != nil {
			return err
		}
	}
	return nil
}

// installEnvironment executes an install task under a build permit.
func (d *Dispatcher) installEnvironment(ctx context.Context, s InstallSpec) error {
	release, err := d.state.limits.acquireBuild(ctx)
	if err != nil {
		return err
	}
	defer release()
	return d.state.installer.Install(ctx, s)
}

// splitRecords partitions solver output into the concrete record slices an
// InstallSpec carries.
func splitRecords(records []record.Record) (binary []record.BinaryRecord, sources []record.SourceRecord) {
	for _, rec := range records {
		switch r := rec.(type) {
		case *record.BinaryRecord:
			binary = append(binary, *r)
		case *record.SourceRecord:
			sources = append(sources, *r)
		}
	}
	return binary, sources
}
