/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const uploadsPath = "/uploads/"

// Files maps uploaded file names onto the relative paths stored in menus.
// The menu only ever stores and compares these paths.
type Files struct {
	dir string
}

func newFiles(dir string) *Files {
	return &Files{dir: dir}
}

// Path returns the stable relative path of an uploaded file, or "" if the
// name is not a plain file name.
func (f *Files) Path(filename string) string {
	name := path.Base(filepath.ToSlash(filename))
	if name == "." || name == "/" || name == ".." || name != filename {
		return ""
	}
	return uploadsPath + name
}

// Remove deletes the file behind a path returned by Path. Missing files are
// not an error.
func (f *Files) Remove(relative string) error {
	name, ok := strings.CutPrefix(relative, uploadsPath)
	if !ok || f.Path(name) != relative {
		return fmt.Errorf("not an uploaded file: %q", relative)
	}

	err := os.Remove(filepath.Join(f.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}
