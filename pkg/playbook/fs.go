package playbook

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileSystem abstracts reading playbooks and roles from disk or an fs.FS.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	Stat(name string) (fs.FileInfo, error)
	Join(elem ...string) string
}

type diskFS struct{}

// OS reads from the local disk.
func OS() FileSystem {
	return diskFS{}
}

func (diskFS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (diskFS) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

func (diskFS) Join(elem ...string) string {
	return filepath.Join(elem...)
}

type fsWrapper struct {
	fsys fs.FS
}

// FromFS reads from an fs.FS such as an embedded bundle or fstest.MapFS.
func FromFS(fsys fs.FS) FileSystem {
	return fsWrapper{fsys: fsys}
}

func (f fsWrapper) ReadFile(name string) ([]byte, error) {
	return fs.ReadFile(f.fsys, f.clean(name))
}

func (f fsWrapper) Stat(name string) (fs.FileInfo, error) {
	return fs.Stat(f.fsys, f.clean(name))
}

func (f fsWrapper) Join(elem ...string) string {
	return path.Join(elem...)
}

// fs.FS paths are unrooted and slash separated
func (f fsWrapper) clean(name string) string {
	name = path.Clean(filepath.ToSlash(name))
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return "."
	}
	return name
}

func dirOf(fsys FileSystem, name string) string {
	if _, ok := fsys.(fsWrapper); ok {
		return path.Dir(filepath.ToSlash(name))
	}
	return filepath.Dir(name)
}

func isAbs(name string) bool {
	return filepath.IsAbs(name) || strings.HasPrefix(name, "/")
}

// resolve joins a relative name to base.
func resolve(fsys FileSystem, base, name string) string {
	if isAbs(name) {
		return name
	}
	return fsys.Join(base, name)
}

// readFirst reads the first existing file among candidates.
func readFirst(fsys FileSystem, candidates ...string) ([]byte, string, error) {
	var firstErr error
	for _, c := range candidates {
		data, err := fsys.ReadFile(c)
		if err == nil {
			return data, c, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, "", firstErr
}
