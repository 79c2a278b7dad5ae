package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CopyTree recursively copies the contents of src into dst.
// dst is created if it does not exist. Symlinks are not followed;
// a deployment tree is expected to contain only regular files and
// directories.
func CopyTree(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat source directory: %w", err)
	}
	if !srcInfo.IsDir() {
		return fmt.Errorf("source is not a directory: %s", src)
	}

	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to read source directory: %w", err)
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := CopyTree(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}

		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}

	return nil
}

// ReplaceTree replaces the entire contents of dst with the contents of src.
// The destination is removed first, so a failure mid-copy can leave dst
// partially written; callers that need safety must snapshot dst beforehand.
func ReplaceTree(src, dst string) error {
	if !DirExists(src) {
		return fmt.Errorf("source directory does not exist: %s", src)
	}

	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("failed to remove destination directory: %w", err)
	}

	if err := CopyTree(src, dst); err != nil {
		return fmt.Errorf("failed to copy tree into destination: %w", err)
	}

	return nil
}

// HashTree computes a stable content hash of a directory tree.
// The hash covers relative paths and file contents, so two trees with
// identical layout and bytes produce identical hashes regardless of
// file timestamps.
func HashTree(root string) (string, error) {
	var files []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk tree: %w", err)
	}

	sort.Strings(files)

	h := sha256.New()
	for _, path := range files {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return "", fmt.Errorf("failed to compute relative path: %w", err)
		}
		io.WriteString(h, filepath.ToSlash(rel))
		io.WriteString(h, "\x00")

		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %w", rel, err)
		}
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to hash %s: %w", rel, err)
		}
		f.Close()
		io.WriteString(h, "\x00")
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteFileAtomic writes data to path via a temporary file and rename,
// so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"

	// Remove leftovers from a previously interrupted write
	_ = os.Remove(tmp)

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}

// WithinRoot reports whether path resolves to a location under root.
// Used before deleting staging or backup directories so a malformed
// id can never escape the managed roots.
func WithinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}

	return out.Close()
}
