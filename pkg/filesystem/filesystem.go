package filesystem

import (
	"fmt"
	"sort"
)

// Registry maps the filesystem name to its implementation
var Registry = make(map[string]FileSystem)

// FileSystem defines the operations used to manage the report directories of
// configurations.
type FileSystem interface {
	// Create creates a new directory in the given path, along with any
	// missing parents.
	Create(path string) error

	// Remove removes path and its children.
	// Implementors should not return an error when the path does not
	// exist.
	Remove(path string) error
}

// Get returns the registered filesystem denoted by s. If it doesn't exist,
// an error is returned.
func Get(s string) (FileSystem, error) {
	fs, ok := Registry[s]
	if !ok {
		return nil, fmt.Errorf("unknown filesystem '%s' (%v)", s, Names())
	}
	return fs, nil
}

// Names returns the names of the registered filesystems, sorted.
func Names() []string {
	names := make([]string, 0, len(Registry))
	for n := range Registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Reset removes path, if it exists, and creates it again empty.
func Reset(fs FileSystem, path string) error {
	err := fs.Remove(path)
	if err != nil {
		return err
	}
	return fs.Create(path)
}
