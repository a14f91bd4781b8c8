package documentstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalBackend stores files below a directory on disk. References are
// file:// URLs unless a base URL is configured.
type LocalBackend struct {
	root    string
	baseURL string
}

func NewLocalBackend(root, baseURL string) *LocalBackend {
	if root == "" {
		root = filepath.Join(os.TempDir(), "fleetquery-uploads")
	}
	return &LocalBackend{root: filepath.Clean(root), baseURL: baseURL}
}

func (b *LocalBackend) FolderExists(_ context.Context, path string) (bool, error) {
	info, err := os.Stat(b.resolve(path))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, err
	case !info.IsDir():
		return false, fmt.Errorf("%s exists and is not a folder", path)
	default:
		return true, nil
	}
}

func (b *LocalBackend) CreateFolder(_ context.Context, path string) error {
	if err := os.MkdirAll(b.root, 0o755); err != nil {
		return err
	}
	if err := os.Mkdir(b.resolve(path), 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrFolderExists
		}
		return err
	}
	return nil
}

func (b *LocalBackend) Put(_ context.Context, path string, data []byte, _ string) (string, error) {
	target := b.resolve(path)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", err
	}
	if b.baseURL != "" {
		return joinURL(b.baseURL, path), nil
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}

func (b *LocalBackend) resolve(path string) string {
	return filepath.Join(b.root, filepath.FromSlash(path))
}
