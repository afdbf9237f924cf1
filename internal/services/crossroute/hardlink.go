// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package crossroute

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// HardlinkTree links src into dst. A file becomes one hardlink; a directory
// is recreated with every regular file hardlinked. When linking fails (for
// example across devices) the file is copied instead, so the source is never
// disturbed either way.
func HardlinkTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	if !info.IsDir() {
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return fmt.Errorf("create destination directory: %w", err)
		}
		return linkOrCopy(src, dst)
	}

	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if entry.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		return linkOrCopy(path, target)
	})
}

func linkOrCopy(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		// Already present from an earlier attempt.
		return nil
	}

	if err := os.Link(src, dst); err == nil {
		return nil
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer srcFile.Close()

	tmp := dst + ".partial"
	dstFile, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy fallback: %w", err)
	}
	if err := dstFile.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("flush destination: %w", err)
	}
	return os.Rename(tmp, dst)
}
