/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// FilesystemStorage implements Storage over the local media root.
type FilesystemStorage struct {
	rootDir string
	logger  zerolog.Logger
}

// NewFilesystemStorage creates a filesystem-based storage backend.
func NewFilesystemStorage(rootDir string, logger zerolog.Logger) *FilesystemStorage {
	return &FilesystemStorage{
		rootDir: rootDir,
		logger:  logger,
	}
}

// resolve turns a storage key into an absolute path and rejects keys
// that would land outside the media root.
func (fs *FilesystemStorage) resolve(key string) (string, error) {
	root, err := filepath.Abs(fs.rootDir)
	if err != nil {
		return "", fmt.Errorf("resolve media root: %w", err)
	}
	abs, err := filepath.Abs(filepath.Join(root, key))
	if err != nil {
		return "", fmt.Errorf("resolve media path: %w", err)
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("media key escapes root: %s", key)
	}
	return abs, nil
}

// URL returns a playable location for a stored key. Local playback opens
// files directly, so the URL is the absolute filesystem path.
func (fs *FilesystemStorage) URL(ctx context.Context, key string) (string, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("media file missing: %s", key)
		}
		return "", fmt.Errorf("stat media file: %w", err)
	}
	return path, nil
}

// Delete removes a file from the media root. Missing files are not an
// error.
func (fs *FilesystemStorage) Delete(ctx context.Context, key string) error {
	path, err := fs.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}

	fs.logger.Debug().Str("path", path).Msg("filesystem storage: file deleted")
	return nil
}

// CheckAccess verifies the media root exists and is a directory.
func (fs *FilesystemStorage) CheckAccess(ctx context.Context) error {
	info, err := os.Stat(fs.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("media root directory does not exist: %s", fs.rootDir)
		}
		return fmt.Errorf("cannot access media root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("media root is not a directory: %s", fs.rootDir)
	}
	return nil
}
