// Package documentstore uploads exported files into a folder hierarchy of a
// document store, creating missing folders on the way.
package documentstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/rpattn/fleetquery/pkg/validator"
)

// ErrFolderExists may be returned by Backend.CreateFolder; the uploader
// treats it as success.
var ErrFolderExists = errors.New("folder already exists")

// ErrOutsideRoot is returned when an upload targets a folder outside the
// configured root folder.
var ErrOutsideRoot = errors.New("folder is outside the upload root")

// Backend is one storage implementation. Paths are slash separated and
// relative to the backend root.
type Backend interface {
	FolderExists(ctx context.Context, path string) (bool, error)
	CreateFolder(ctx context.Context, path string) error
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

type Uploader struct {
	backend Backend
	folder  string
	paths   *validator.PathManager
}

func NewUploader(backend Backend, folder string) *Uploader {
	return &Uploader{backend: backend, folder: folder, paths: validator.NewPathManager()}
}

// New builds the uploader for the configured backend.
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	var (
		backend Backend
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendLocal:
		backend = NewLocalBackend(cfg.LocalRoot, cfg.BaseURL)
	case BackendAzure:
		backend, err = NewAzureBackend(cfg.AzureConnectionString, cfg.Container)
	case BackendS3:
		backend, err = NewS3Backend(cfg)
	case BackendGCS:
		backend, err = NewGCSBackend(ctx, cfg.GCSCredentialsFile, cfg.Container)
	default:
		return nil, fmt.Errorf("unsupported document store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s document store: %w", cfg.Backend, err)
	}
	return NewUploader(backend, cfg.Folder), nil
}

// Upload stores data as name inside the configured folder and returns the
// reference URL.
func (u *Uploader) Upload(ctx context.Context, data []byte, name, contentType string) (string, error) {
	return u.UploadTo(ctx, u.folder, data, name, contentType)
}

// UploadTo stores data as name inside folder, creating the folder first.
// folder must be the configured folder or lie below it.
func (u *Uploader) UploadTo(ctx context.Context, folder string, data []byte, name, contentType string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if u.paths.Clean(folder) != u.paths.Clean(u.folder) && !u.paths.IsAncestorOf(u.folder, folder) {
		return "", fmt.Errorf("folder %q: %w", folder, ErrOutsideRoot)
	}
	if err := u.EnsureFolder(ctx, folder); err != nil {
		return "", err
	}
	target := u.paths.Join(folder, name)
	ref, err := u.backend.Put(ctx, target, data, contentType)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", target, err)
	}
	log.Printf("[documentstore] uploaded %s (%d bytes)", target, len(data))
	return ref, nil
}

// EnsureFolder creates every missing folder of path, root first. Folders
// that already exist, or appear concurrently, are not an error.
func (u *Uploader) EnsureFolder(ctx context.Context, path string) error {
	if err := u.paths.ValidatePath(path); err != nil {
		return fmt.Errorf("folder %q: %w", path, err)
	}
	for _, folder := range u.paths.Ancestors(path) {
		exists, err := u.backend.FolderExists(ctx, folder)
		if err != nil {
			return fmt.Errorf("check folder %s: %w", folder, err)
		}
		if exists {
			continue
		}
		if err := u.backend.CreateFolder(ctx, folder); err != nil && !errors.Is(err, ErrFolderExists) {
			return fmt.Errorf("create folder %s: %w", folder, err)
		}
		log.Printf("[documentstore] created folder %s", folder)
	}
	return nil
}

func joinURL(base string, elems ...string) string {
	joined, err := url.JoinPath(base, elems...)
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + strings.Join(elems, "/")
	}
	return joined
}
