package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local stores archives under a base path, for benches whose offsite target
// is a mounted volume rather than an object store.
type Local struct {
	BasePath string
}

func NewLocal(path string) *Local {
	return &Local{BasePath: path}
}

func (l *Local) Put(ctx context.Context, key string, reader io.Reader, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := filepath.Join(l.BasePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(file, reader)
	return err
}

func (l *Local) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(filepath.Join(l.BasePath, filepath.FromSlash(key)))
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: key, Size: info.Size(), Modified: info.ModTime()}, nil
}

func (l *Local) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := filepath.Join(l.BasePath, filepath.FromSlash(prefix))
	infos := []ObjectInfo{}
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(l.BasePath, path)
		if relErr != nil {
			return nil
		}
		stat, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		infos = append(infos, ObjectInfo{Key: filepath.ToSlash(rel), Size: stat.Size(), Modified: stat.ModTime()})
		return nil
	})

	return infos, nil
}

func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(l.BasePath, filepath.FromSlash(key)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
