package space

import (
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"time"
)

// Entry is a regular file found under a walked directory.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Walk yields every regular file under root in lexical order. A missing root
// yields nothing, and files that vanish mid-walk are skipped. A walk failure
// is yielded once as the final element.
func Walk(root string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					if path == root {
						return filepath.SkipAll
					}
					return nil
				}
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if !yield(Entry{Path: path, Size: info.Size(), ModTime: info.ModTime()}, nil) {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil {
			yield(Entry{}, err)
		}
	}
}

// DirSize returns the total size of regular files under root.
func DirSize(root string) (int64, error) {
	var total int64
	for e, err := range Walk(root) {
		if err != nil {
			return 0, err
		}
		total += e.Size
	}
	return total, nil
}

// DeleteEmptyDirs removes, bottom-up, every directory under root that holds
// no regular files. Root itself is kept. It returns the number of
// directories removed.
func DeleteEmptyDirs(root string) (int, error) {
	removed := 0
	var prune func(dir string) (bool, error)
	prune = func(dir string) (bool, error) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return false, nil
			}
			return false, err
		}
		empty := true
		for _, e := range entries {
			if !e.IsDir() {
				empty = false
				continue
			}
			sub := filepath.Join(dir, e.Name())
			subEmpty, err := prune(sub)
			if err != nil {
				return false, err
			}
			if !subEmpty {
				empty = false
				continue
			}
			// Remove refuses non-empty directories, so a file created
			// concurrently keeps its parent alive.
			if err := os.Remove(sub); err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					empty = false
				}
				continue
			}
			removed++
		}
		return empty, nil
	}
	_, err := prune(root)
	return removed, err
}
