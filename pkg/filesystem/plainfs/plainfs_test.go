package plainfs

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbd-testing/teststage/pkg/filesystem"
)

func TestRegistered(t *testing.T) {
	fs, err := filesystem.Get("plain")
	require.NoError(t, err)
	assert.Equal(t, PlainFS{}, fs)

	_, err = filesystem.Get("zfs")
	assert.Error(t, err)
}

func TestReset(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports", "cfgA")
	fs := PlainFS{}

	require.NoError(t, filesystem.Reset(fs, dir))
	stale := filepath.Join(dir, "report_examples.xml")
	require.NoError(t, ioutil.WriteFile(stale, []byte("<testsuites/>"), 0644))

	require.NoError(t, filesystem.Reset(fs, dir))
	assert.DirExists(t, dir)
	assert.NoFileExists(t, stale)
}

func TestRemoveMissing(t *testing.T) {
	assert.NoError(t, PlainFS{}.Remove(filepath.Join(t.TempDir(), "missing")))
}
