package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrFolderExists is returned by CreateFolder when the target already exists.
var ErrFolderExists = errors.New("folder already exists")

// ErrNoParent is returned when writing into a directory that does not exist.
var ErrNoParent = errors.New("parent directory does not exist")

// CreateFolder creates path and its parents. Unlike EnsureDir it refuses to
// reuse an existing folder.
func CreateFolder(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrFolderExists, path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat folder: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	return nil
}

// WriteFile writes data to path atomically. The parent directory must exist.
func WriteFile(path string, data []byte) error {
	return WriteStream(path, bytes.NewReader(data))
}

// WriteStream copies r into path through a temp file in the same directory,
// syncing before the rename. The parent directory must exist.
func WriteStream(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNoParent, dir)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}

	success = true
	return nil
}

// FileInfo describes one file found by ListFiles.
type FileInfo struct {
	Path    string
	Name    string
	Size    int64
	ModTime int64
}

// ListFiles returns regular files directly inside dir whose name contains
// pattern, newest first. An empty pattern matches every file.
func ListFiles(ctx context.Context, dir, pattern string) ([]FileInfo, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("directory does not exist: %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.Type().IsRegular() {
			continue
		}
		if pattern != "" && !strings.Contains(e.Name(), pattern) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Path:    filepath.Join(dir, e.Name()),
			Name:    e.Name(),
			Size:    fi.Size(),
			ModTime: fi.ModTime().UnixNano(),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].ModTime != files[j].ModTime {
			return files[i].ModTime > files[j].ModTime
		}
		return files[i].Name > files[j].Name
	})
	return files, nil
}
