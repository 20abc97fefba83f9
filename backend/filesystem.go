// Package backend defines the storage contracts tasks consume (FileSystem,
// RDB, ObjectStorage) and the concrete adapters that implement them.
package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeffrey82221/batchdag/config"
	"github.com/jeffrey82221/batchdag/errs"
)

// FileSystem is the byte-blob backend contract: upload, download,
// check_exists, drop, keyed by an opaque string. Directory scoping is a
// constructor parameter and transparent to callers.
type FileSystem interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	CheckExists(ctx context.Context, key string) (bool, error)
	Drop(ctx context.Context, key string) error
}

// LocalFileSystem is a FileSystem rooted at a local directory, the simplest
// backend a task can be pointed at directly or used as MapReduce scratch
// space. Mirrors the teacher's os-based file handling in
// internal/operators/operators.go, generalised from line-oriented CSV
// reads/writes to opaque byte blobs.
type LocalFileSystem struct {
	root string
}

// NewLocalFileSystem returns a FileSystem rooted at root. An empty root
// falls back to config.LocalRootEnv (or "./batchdag-data" if that too is
// unset), following the teacher's env-var-with-fallback configuration idiom.
func NewLocalFileSystem(root string) (*LocalFileSystem, error) {
	if root == "" {
		root = config.GetEnv(config.LocalRootEnv, "./batchdag-data")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.NewBackendError(errs.IOError, fmt.Sprintf("creating root %q", root), err)
	}
	return &LocalFileSystem{root: root}, nil
}

func (fs *LocalFileSystem) path(key string) string {
	return filepath.Join(fs.root, filepath.FromSlash(key))
}

func (fs *LocalFileSystem) Upload(ctx context.Context, key string, data []byte) error {
	p := fs.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errs.NewBackendError(errs.IOError, fmt.Sprintf("creating parent dir for %q", key), err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		if os.IsPermission(err) {
			return errs.NewBackendError(errs.AuthError, fmt.Sprintf("uploading %q", key), err)
		}
		return errs.NewBackendError(errs.IOError, fmt.Sprintf("uploading %q", key), err)
	}
	return nil
}

func (fs *LocalFileSystem) Download(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(fs.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NewBackendError(errs.NotFoundError, fmt.Sprintf("downloading %q", key), err)
		}
		if os.IsPermission(err) {
			return nil, errs.NewBackendError(errs.AuthError, fmt.Sprintf("downloading %q", key), err)
		}
		return nil, errs.NewBackendError(errs.IOError, fmt.Sprintf("downloading %q", key), err)
	}
	return data, nil
}

func (fs *LocalFileSystem) CheckExists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(fs.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errs.NewBackendError(errs.IOError, fmt.Sprintf("checking %q", key), err)
}

// Drop is idempotent with respect to NotFound, per the FileSystem contract.
func (fs *LocalFileSystem) Drop(ctx context.Context, key string) error {
	err := os.Remove(fs.path(key))
	if err != nil && !os.IsNotExist(err) {
		return errs.NewBackendError(errs.IOError, fmt.Sprintf("dropping %q", key), err)
	}
	return nil
}
