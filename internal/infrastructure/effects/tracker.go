package effects

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"golang.org/x/crypto/blake2b"
)

// Snapshot maps a slash-separated path relative to the scanned root to the
// content fingerprint of the file observed there.
type Snapshot map[string]string

// Scan is a snapshot plus the subpaths that could not be read.
type Scan struct {
	Files    Snapshot
	Failures []*domain.EffectScanError
}

// Take walks root and fingerprints every regular file and symlink. Files that
// vanish mid-walk are skipped; unreadable subpaths are recorded and skipped.
// A missing root yields an empty snapshot.
func Take(root string) Scan {
	scan := Scan{Files: Snapshot{}}
	if root == "" {
		return scan
	}

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			scan.Failures = append(scan.Failures, &domain.EffectScanError{Path: rel(root, path), Err: err})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		var sum string
		var ferr error
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			sum, ferr = fingerprintLink(path)
		case d.Type().IsRegular():
			sum, ferr = fingerprintFile(path)
		default:
			// Sockets, fifos and devices have no content to compare.
			return nil
		}
		if ferr != nil {
			if !errors.Is(ferr, fs.ErrNotExist) {
				scan.Failures = append(scan.Failures, &domain.EffectScanError{Path: rel(root, path), Err: ferr})
			}
			return nil
		}
		scan.Files[rel(root, path)] = sum
		return nil
	})
	return scan
}

// Diff classifies paths present only after as created, present in both with a
// different fingerprint as modified, and present only before as deleted.
func Diff(before, after Snapshot) domain.FileEffects {
	fx := domain.FileEffects{Created: []string{}, Modified: []string{}, Deleted: []string{}}
	for path, sum := range after {
		prev, ok := before[path]
		switch {
		case !ok:
			fx.Created = append(fx.Created, path)
		case prev != sum:
			fx.Modified = append(fx.Modified, path)
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			fx.Deleted = append(fx.Deleted, path)
		}
	}
	sort.Strings(fx.Created)
	sort.Strings(fx.Modified)
	sort.Strings(fx.Deleted)
	return fx
}

// Tracker wraps a unit of work with before/after snapshots of a directory.
type Tracker struct {
	log *logger.Logger
}

func NewTracker(log *logger.Logger) *Tracker {
	return &Tracker{log: log}
}

// Track runs fn between two scans of root and returns the effect summary.
// Scan failures never surface as errors: they mark the summary partial and are
// logged.
func (t *Tracker) Track(root string, fn func()) domain.FileEffects {
	before := Take(root)
	fn()
	after := Take(root)

	fx := Compare(before, after)
	for _, f := range append(before.Failures, after.Failures...) {
		t.log.Warnw("effects_scan_partial", "root", root, "path", f.Path, "error", f.Err)
	}
	return fx
}

// Compare diffs two scans. A path that either scan failed to read is left out
// of Created and Deleted, since its absence from one side says nothing about
// the file itself.
func Compare(before, after Scan) domain.FileEffects {
	failures := append(append([]*domain.EffectScanError{}, before.Failures...), after.Failures...)
	fx := Diff(before.Files, after.Files)
	if len(failures) == 0 {
		return fx
	}

	fx.Partial = true
	seen := make(map[string]bool)
	for _, f := range failures {
		msg := f.Error()
		if seen[msg] {
			continue
		}
		seen[msg] = true
		fx.Warnings = append(fx.Warnings, msg)
	}
	fx.Created = scanned(fx.Created, failures)
	fx.Deleted = scanned(fx.Deleted, failures)
	return fx
}

// scanned drops paths at or under a failed subpath.
func scanned(paths []string, failures []*domain.EffectScanError) []string {
	out := paths[:0]
	for _, p := range paths {
		if !underFailure(p, failures) {
			out = append(out, p)
		}
	}
	return out
}

func underFailure(path string, failures []*domain.EffectScanError) bool {
	for _, f := range failures {
		if f.Path == "." || f.Path == path || strings.HasPrefix(path, f.Path+"/") {
			return true
		}
	}
	return false
}

func fingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Links are compared by target text, never followed.
func fingerprintLink(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256([]byte("link:" + target))
	return hex.EncodeToString(sum[:]), nil
}

func rel(root, path string) string {
	r, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(r)
}
