// Package scratch manages request-scoped temporary files.
package scratch

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

var extRe = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

type Dir struct {
	path string
}

func New(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Dir{path: path}, nil
}

func (d *Dir) Path() string { return d.path }

// Create opens a new uniquely named file in the directory. The returned
// cleanup removes it; removal errors are ignored.
func (d *Dir) Create(id, ext string) (*os.File, func(), error) {
	ext = strings.ToLower(ext)
	if !extRe.MatchString(ext) {
		ext = ""
	}

	f, err := os.CreateTemp(d.path, "upload-"+id+"-*"+ext)
	if err != nil {
		return nil, func() {}, fmt.Errorf("create scratch file: %w", err)
	}
	name := f.Name()
	return f, func() { _ = os.Remove(name) }, nil
}

// Save copies r into a uniquely named file and returns its path. cleanup is
// safe to call on every path.
func (d *Dir) Save(r io.Reader, id, ext string) (string, func(), error) {
	f, cleanup, err := d.Create(id, ext)
	if err != nil {
		return "", cleanup, err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("close scratch file: %w", err)
	}
	return f.Name(), cleanup, nil
}
