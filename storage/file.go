package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	gopath "path"

	"github.com/google/uuid"
)

// FileBackend stores objects on the local filesystem, addressed by plain
// paths.
type FileBackend struct{}

var _ Backend = &FileBackend{}

func (fb *FileBackend) JoinPath(path, pathToJoin string) string {
	return gopath.Join(path, pathToJoin)
}

func (fb *FileBackend) TrimPath(path string) string {
	return gopath.Clean(path)
}

func (fb *FileBackend) HeadObj(path string) (ObjectMeta, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return ObjectMeta{}, &ErrNotFound{Inner: err, Path: path}
	} else if err != nil {
		return ObjectMeta{}, fmt.Errorf("unable to stat file: %w", err)
	}

	return ObjectMeta{
		Path:     path,
		Modified: info.ModTime(),
	}, nil
}

func (fb *FileBackend) GetObj(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &ErrNotFound{Inner: err, Path: path}
	} else if err != nil {
		return nil, fmt.Errorf("unable to open file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read file: %w", err)
	}

	return data, nil
}

func (fb *FileBackend) ListObjs(path string) ([]ObjectMeta, error) {
	entries, err := os.ReadDir(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &ErrNotFound{Inner: err, Path: path}
	} else if err != nil {
		return nil, fmt.Errorf("unable to read dir: %w", err)
	}

	results := make([]ObjectMeta, 0, len(entries))
	for _, e := range entries {
		fPath := gopath.Join(path, e.Name())

		info, err := os.Stat(fPath)
		if err != nil {
			return nil, fmt.Errorf("unable to stat file %s: %w", fPath, err)
		}

		results = append(results, ObjectMeta{
			Path:     fPath,
			Modified: info.ModTime(),
		})
	}

	return results, nil
}

// PutObj writes to a temporary sibling first and renames it into place so
// concurrent readers never observe a partial object.
func (fb *FileBackend) PutObj(path string, data []byte) error {
	if err := os.MkdirAll(gopath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("unable to create directory: %w", err)
	}

	tmpPath := fmt.Sprintf("%s_%s", path, uuid.New().String())
	if err := os.WriteFile(tmpPath, data, 0o640); err != nil {
		return fmt.Errorf("unable to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if rmErr := os.Remove(tmpPath); rmErr != nil {
			return fmt.Errorf("unable to remove temp file after rename failed: %w", rmErr)
		}
		return fmt.Errorf("unable to rename temp file: %w", err)
	}

	return nil
}

func (fb *FileBackend) RenameObjNoReplace(src, dst string) error {
	_, err := os.Stat(dst)
	if err == nil {
		return &ErrAlreadyExists{Path: dst}
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("unable to check if destination path already exists: %w", err)
	}

	if err := os.MkdirAll(gopath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("unable to create directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("unable to rename file: %w", err)
	}
	return nil
}

func (fb *FileBackend) DeleteObjs(paths ...string) error {
	for _, p := range paths {
		err := os.Remove(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("unable to delete file '%s': %w", p, err)
		}
	}

	return nil
}
