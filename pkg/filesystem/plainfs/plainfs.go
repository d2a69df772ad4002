package plainfs

import (
	"os"

	"github.com/dbd-testing/teststage/pkg/filesystem"
)

// PlainFS implements the FileSystem interface on top of the os package.
type PlainFS struct{}

func init() {
	filesystem.Registry["plain"] = PlainFS{}
}

// Create creates a new directory at path
func (fs PlainFS) Create(path string) error {
	return os.MkdirAll(path, 0755)
}

// Remove deletes the path and all its contents
func (fs PlainFS) Remove(path string) error {
	return os.RemoveAll(path)
}
