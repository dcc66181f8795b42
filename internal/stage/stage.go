// Package stage writes tool output next to its final location and moves it
// into place only once the whole run has succeeded.
package stage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Overwrite selects what happens when an output location already exists.
type Overwrite string

const (
	// OverwriteRefuse fails before any work if the target exists.
	OverwriteRefuse Overwrite = "refuse"
	// OverwriteReplace writes into the existing target, replacing files by name.
	OverwriteReplace Overwrite = "replace"
)

// ErrTargetExists is returned when the target exists under OverwriteRefuse.
var ErrTargetExists = errors.New("target already exists")

// ParseOverwrite parses a flag value.
func ParseOverwrite(s string) (Overwrite, error) {
	switch Overwrite(strings.ToLower(strings.TrimSpace(s))) {
	case OverwriteRefuse:
		return OverwriteRefuse, nil
	case OverwriteReplace:
		return OverwriteReplace, nil
	default:
		return "", fmt.Errorf("invalid overwrite policy %q (want refuse|replace)", s)
	}
}

// Staging is an output directory under construction.
type Staging struct {
	target  string
	dir     string
	inPlace bool
	done    bool
}

// Begin prepares an output directory for target. Under OverwriteRefuse the
// work happens in a hidden sibling directory that Commit renames to target.
// Under OverwriteReplace the target itself is used and Commit is a no-op.
func Begin(target string, policy Overwrite) (*Staging, error) {
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("empty target path")
	}
	target = filepath.Clean(target)
	switch policy {
	case OverwriteReplace:
		if err := os.MkdirAll(target, 0o755); err != nil {
			return nil, fmt.Errorf("create target: %w", err)
		}
		return &Staging{target: target, dir: target, inPlace: true}, nil
	case OverwriteRefuse, "":
	default:
		return nil, fmt.Errorf("invalid overwrite policy %q", policy)
	}
	if err := refuseExisting(target); err != nil {
		return nil, err
	}
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create parent: %w", err)
	}
	dir, err := os.MkdirTemp(parent, "."+filepath.Base(target)+".staging-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Staging{target: target, dir: dir}, nil
}

// Dir is where output files should be written.
func (s *Staging) Dir() string { return s.dir }

// Target is the final output location.
func (s *Staging) Target() string { return s.target }

// Commit moves the staged directory into place.
func (s *Staging) Commit() error {
	if s.done {
		return nil
	}
	s.done = true
	if s.inPlace {
		return nil
	}
	if err := refuseExisting(s.target); err != nil {
		_ = os.RemoveAll(s.dir)
		return err
	}
	if err := os.Rename(s.dir, s.target); err != nil {
		_ = os.RemoveAll(s.dir)
		return fmt.Errorf("commit %s: %w", s.target, err)
	}
	return nil
}

// Abort discards staged output. Safe to call after Commit; in-place output
// written so far is kept.
func (s *Staging) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	if s.inPlace {
		return nil
	}
	return os.RemoveAll(s.dir)
}

// WriteFileAtomic writes data to a temporary file beside path and renames it
// into place. It refuses to replace an existing path.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	if err := refuseExisting(path); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := refuseExisting(path); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func refuseExisting(path string) error {
	_, err := os.Lstat(path)
	if err == nil {
		return fmt.Errorf("%s: %w", path, ErrTargetExists)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
