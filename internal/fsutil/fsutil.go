// Package fsutil holds the file operations shared by the state store and
// the provisioning operations.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// testHookBeforeRename simulates a crash between writing the temporary file
// and renaming it into place.
var testHookBeforeRename func()

// SetTestHookBeforeRename sets the crash-simulation hook. Tests only.
func SetTestHookBeforeRename(hook func()) {
	testHookBeforeRename = hook
}

// AtomicWriteFile writes data to a temporary file in the target directory and
// renames it over filename, so readers see either the old or the new content.
func AtomicWriteFile(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	var success bool
	defer func() {
		if !success {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	if testHookBeforeRename != nil {
		testHookBeforeRename()
	}

	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

// Exists reports whether path exists without following a final symlink.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// CopyFile copies a regular file, creating parent directories as needed.
func CopyFile(src, dst string, info fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, time.Now(), info.ModTime())
}

func copySymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.Symlink(target, dst)
}

// CopyTree mirrors src into dst. Entries already present in dst are left
// alone. It returns every path it created, parents before children, so the
// copy can be undone with RemoveCreated even when it fails halfway.
func CopyTree(src, dst string) ([]string, error) {
	var created []string
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := dst
		if rel != "." {
			target = filepath.Join(dst, rel)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if Exists(target) {
			return nil
		}

		// Record missing parents of the root so they are removed too.
		if rel == "." {
			created = append(created, missingParents(filepath.Dir(target))...)
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			if err := copySymlink(path, target); err != nil {
				return err
			}
		case d.IsDir():
			if err := os.MkdirAll(target, info.Mode().Perm()|0o700); err != nil {
				return err
			}
		default:
			if err := CopyFile(path, target, info); err != nil {
				return err
			}
		}
		created = append(created, target)
		return nil
	})
	return created, err
}

func missingParents(dir string) []string {
	var missing []string
	for !Exists(dir) {
		missing = append(missing, dir)
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	// outermost first
	for i, j := 0, len(missing)-1; i < j; i, j = i+1, j-1 {
		missing[i], missing[j] = missing[j], missing[i]
	}
	return missing
}

// RemoveCreated removes paths recorded by CopyTree, deepest first.
// Directories that gained foreign content are kept. Missing paths are ignored.
func RemoveCreated(paths []string) error {
	sorted := append([]string(nil), paths...)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.Count(sorted[i], string(filepath.Separator)) > strings.Count(sorted[j], string(filepath.Separator))
	})

	var errs []error
	for _, p := range sorted {
		info, err := os.Lstat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if info.IsDir() {
			entries, err := os.ReadDir(p)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if len(entries) > 0 {
				errs = append(errs, fmt.Errorf("%s is not empty, leaving it in place", p))
				continue
			}
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
