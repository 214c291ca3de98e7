package mustache

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Source is where the text of a template comes from. Location is the
// identity of the source: two sources with the same location are the same
// template.
type Source interface {
	Location() string
	Read() ([]byte, error)
}

// FileSource is a template stored on the local file system.
type FileSource string

func (f FileSource) Location() string {
	abs, err := filepath.Abs(string(f))
	if err != nil {
		return filepath.ToSlash(filepath.Clean(string(f)))
	}
	return filepath.ToSlash(abs)
}

func (f FileSource) Path() string {
	return string(f)
}

func (f FileSource) Read() ([]byte, error) {
	return os.ReadFile(string(f))
}

// FSProvider hands out the current file system of a bundle. It is consulted
// on every read so a bundle can be replaced without recreating its sources.
type FSProvider func() fs.FS

// FSSource is a template packaged in a bundle.
type FSSource struct {
	Bundle string
	Path   string
	FS     FSProvider
}

// Location has the form bundle:<bundle>!/<path>.
func (s FSSource) Location() string {
	return fmt.Sprintf("bundle:%s!/%s", s.Bundle, s.Path)
}

func (s FSSource) Read() ([]byte, error) {
	fsys := s.FS()
	if fsys == nil {
		return nil, fmt.Errorf("bundle %s is not available: %w", s.Bundle, fs.ErrNotExist)
	}
	return fs.ReadFile(fsys, s.Path)
}
