// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned for an upload path that is absolute,
// contains "." or ".." or empty components, lacks a directory, or
// otherwise resolves outside the upload root.
var ErrUnsafePath = errors.New("unsafe upload path")

// NormalizePath converts a path as sent by the analyzer to the
// slash-separated form used for validation and journaling.
func NormalizePath(raw string) string {
	return strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/")
}

// ResolvePath validates a normalized relative path and returns the
// absolute location inside root it maps to. The path must have at
// least one directory component and a file name.
func ResolvePath(root, relative string) (string, error) {
	if relative == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnsafePath)
	}
	if strings.ContainsRune(relative, 0) {
		return "", fmt.Errorf("%w: %q contains NUL", ErrUnsafePath, relative)
	}
	if strings.HasPrefix(relative, "/") || hasDrivePrefix(relative) {
		return "", fmt.Errorf("%w: %q is absolute", ErrUnsafePath, relative)
	}

	components := strings.Split(relative, "/")
	if len(components) < 2 {
		return "", fmt.Errorf("%w: %q has no directory component", ErrUnsafePath, relative)
	}
	for _, component := range components {
		switch component {
		case "":
			return "", fmt.Errorf("%w: %q has an empty component", ErrUnsafePath, relative)
		case ".", "..":
			return "", fmt.Errorf("%w: %q contains %q", ErrUnsafePath, relative, component)
		}
	}

	absoluteRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving upload root: %w", err)
	}
	target := filepath.Join(absoluteRoot, filepath.FromSlash(relative))
	inside, err := filepath.Rel(absoluteRoot, target)
	if err != nil || inside == "." || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q resolves outside the upload root", ErrUnsafePath, relative)
	}
	return target, nil
}

// hasDrivePrefix catches "C:..." style paths, which are absolute on
// the analyzer's side.
func hasDrivePrefix(path string) bool {
	if len(path) < 2 || path[1] != ':' {
		return false
	}
	letter := path[0] | 0x20
	return letter >= 'a' && letter <= 'z'
}

// rejectLinkedDirectories walks the existing directory components of
// relative under root and refuses the path if any of them is a
// symbolic link. Components that do not exist yet end the walk.
func rejectLinkedDirectories(root *os.Root, relative string) error {
	var walked string
	for _, component := range strings.Split(filepath.Dir(relative), string(filepath.Separator)) {
		walked = filepath.Join(walked, component)
		info, err := root.Lstat(walked)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("inspecting upload directory %s: %w", filepath.ToSlash(walked), err)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s is a symbolic link", ErrUnsafePath, filepath.ToSlash(walked))
		}
		if !info.IsDir() {
			return nil
		}
	}
	return nil
}
