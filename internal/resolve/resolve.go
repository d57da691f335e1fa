// Package resolve turns a rule group's target selector into the concrete
// files it applies to.
//
// A selector is a slash-separated path relative to the output root. It names
// either a single file or a directory; a directory selects every regular file
// beneath it, found by recursive depth-first descent. filepath.WalkDir visits
// entries in lexical order, so resolving the same selector on an unchanged
// tree always returns the same slice.
package resolve

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/shinji-kodama/datapack-builder/internal/model"
)

// ErrPathNotFound is returned (wrapped with the selector) when a selector
// names nothing on disk. Callers treat it as a no-op, not a failure of the
// run.
var ErrPathNotFound = errors.New("path not found")

// Targets resolves selector against root.
//
// The returned TargetFile paths are relative to root and use forward
// slashes. Selectors that escape root, or that name something other than a
// regular file or directory, resolve to ErrPathNotFound.
func Targets(root, selector string) ([]model.TargetFile, error) {
	rel, ok := cleanSelector(selector)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, selector)
	}

	abs := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, selector)
		}
		return nil, fmt.Errorf("stat %s: %w", selector, err)
	}

	switch {
	case info.Mode().IsRegular():
		return []model.TargetFile{model.NewTargetFile(rel)}, nil
	case info.IsDir():
		return walk(root, abs)
	default:
		return nil, fmt.Errorf("%w: %s is not a file or directory", ErrPathNotFound, selector)
	}
}

// walk lists every regular file under dir, relative to root.
func walk(root, dir string) ([]model.TargetFile, error) {
	var targets []model.TargetFile

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		targets = append(targets, model.NewTargetFile(filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return targets, nil
}

// cleanSelector normalizes a selector to a clean relative slash path and
// reports whether it stays inside the root. "" and "." select the root
// itself.
func cleanSelector(selector string) (string, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(selector), "\\", "/")
	if path.IsAbs(s) || filepath.VolumeName(s) != "" {
		return "", false
	}
	s = path.Clean(s)
	if s == ".." || strings.HasPrefix(s, "../") {
		return "", false
	}
	return s, true
}
