// Package pathutil resolves possibly-relative path specs into absolute,
// normalized paths. Normalization is a security boundary: a relative path may
// never traverse above the root it is resolved against.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscapesRoot is returned when normalizing a path pops past the resolution
// root, e.g. "../../etc/passwd".
var ErrEscapesRoot = fmt.Errorf("relative path escapes root")

// InvalidPathError wraps the path that failed to resolve.
type InvalidPathError struct {
	Path string
	Err  error
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Err)
}

func (e *InvalidPathError) Unwrap() error { return e.Err }

// Resolve turns a path spec into an absolute normalized path:
//
//   - absolute specs are returned in native form, unchanged
//   - "~/" specs are resolved against the user's home directory
//   - anything else is joined onto rootDir
//
// The path is not required to exist and symlinks are not followed.
func Resolve(pathSpec, rootDir string) (string, error) {
	if filepath.IsAbs(pathSpec) {
		return filepath.FromSlash(pathSpec), nil
	}
	// filepath.Join would Clean the path and silently clamp ".." at the
	// filesystem root; the components must reach the normalizer intact so
	// escapes are detected instead of swallowed.
	if after, ok := strings.CutPrefix(pathSpec, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", &InvalidPathError{Path: pathSpec, Err: fmt.Errorf("could not determine home directory: %w", err)}
		}
		return NormalizeAbsolute(home + string(filepath.Separator) + filepath.FromSlash(after))
	}
	return NormalizeAbsolute(rootDir + string(filepath.Separator) + filepath.FromSlash(pathSpec))
}

// NormalizeAbsolute removes "." and ".." components from an absolute path
// without touching the filesystem. A ".." that would pop past the root of the
// path is an error rather than being silently clamped.
func NormalizeAbsolute(p string) (string, error) {
	vol := filepath.VolumeName(p)
	rest := p[len(vol):]

	rooted := strings.HasPrefix(rest, string(filepath.Separator)) || strings.HasPrefix(rest, "/")
	var stack []string
	for _, comp := range strings.FieldsFunc(rest, func(r rune) bool {
		return r == '/' || r == filepath.Separator
	}) {
		switch comp {
		case ".":
		case "..":
			if len(stack) == 0 {
				return "", &InvalidPathError{Path: p, Err: ErrEscapesRoot}
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, comp)
		}
	}

	out := vol
	if rooted {
		out += string(filepath.Separator)
	}
	return out + strings.Join(stack, string(filepath.Separator)), nil
}
