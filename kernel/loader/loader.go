// Package loader supplies raw executable images by application name.
package loader

import (
	"os"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"
)

// Loader resolves an application name to its executable image.
type Loader interface {
	Lookup(name string) ([]byte, bool)
}

// Dir serves images from the files of a host directory. The file name is
// the application name.
type Dir struct {
	root string
}

// NewDir returns a Loader backed by the files in root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Lookup implements Loader. Names that would escape the directory are not
// found.
func (d *Dir) Lookup(name string) ([]byte, bool) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, false
	}

	image, err := os.ReadFile(filepath.Join(d.root, name))
	if err != nil {
		log.WithFields(log.Fields{"app": name, "dir": d.root}).Debug("loader: lookup failed: ", err)
		return nil, false
	}
	return image, true
}

// Names returns the sorted application names available in the directory.
func (d *Dir) Names() []string {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil
	}

	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	return names
}

// Map is a Loader over an in-memory set of images.
type Map map[string][]byte

// Lookup implements Loader.
func (m Map) Lookup(name string) ([]byte, bool) {
	image, ok := m[name]
	return image, ok
}

// Names returns the sorted application names in the map.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
