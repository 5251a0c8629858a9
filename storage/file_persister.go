// Package storage writes the files a launch stages on disk.
package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

// FilePersister will persist files. It abstracts away the where and how of
// writing files to the source destination.
type FilePersister interface {
	Persist(ctx context.Context, path string, data io.Reader) error
}

// LocalFilePersister will persist files to the local disk.
//
// Files are first written to a temporary sibling and then renamed over the
// destination, so readers only ever observe complete files.
type LocalFilePersister struct {
	fs afero.Fs
}

// NewLocalFilePersister returns a LocalFilePersister writing to fs.
// A nil fs means the OS filesystem.
func NewLocalFilePersister(fs afero.Fs) *LocalFilePersister {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &LocalFilePersister{fs: fs}
}

// Fs returns the filesystem the persister writes to.
func (l *LocalFilePersister) Fs() afero.Fs {
	if l.fs == nil {
		return afero.NewOsFs()
	}
	return l.fs
}

// Persist will write the contents of data to the local disk on the specified path.
func (l *LocalFilePersister) Persist(ctx context.Context, path string, data io.Reader) (err error) {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("persisting %q: %w", path, err)
	}

	fs := l.Fs()
	cp := filepath.Clean(path)

	dir := filepath.Dir(cp)
	if err = fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating a local directory %q: %w", dir, err)
	}

	f, err := afero.TempFile(fs, dir, "."+filepath.Base(cp)+".")
	if err != nil {
		return fmt.Errorf("creating a temporary file for %q: %w", cp, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = fs.Remove(tmp)
		}
	}()

	bf := bufio.NewWriter(f)
	if _, err = io.Copy(bf, data); err != nil {
		_ = f.Close()
		return fmt.Errorf("copying data to file: %w", err)
	}
	if err = bf.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flushing data to disk: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing the local file %q: %w", tmp, err)
	}

	if err = fs.Rename(tmp, cp); err != nil {
		return fmt.Errorf("moving %q into place: %w", cp, err)
	}

	return nil
}
