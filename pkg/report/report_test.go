package report

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbd-testing/teststage/pkg/resultstream"
	"github.com/dbd-testing/teststage/pkg/types"
)

var records = []types.ResultRecord{
	{Example: "java-main", Kind: types.Run, Status: types.Passed, Duration: 1500 * time.Millisecond, Output: "ok"},
	{Example: "shell", Kind: types.Run, Status: types.Failed, Reason: "exit status 1", Output: "boom"},
	{Example: "fluent-job", Kind: types.Validate, Status: types.Passed},
	{Example: "pig", Kind: types.Run, Status: types.Error},
}

// parsed mirrors the parts of the JUnit schema the tests look at.
type parsed struct {
	Suites []struct {
		Name      string `xml:"name,attr"`
		Tests     int    `xml:"tests,attr"`
		Failures  int    `xml:"failures,attr"`
		Errors    int    `xml:"errors,attr"`
		Testcases []struct {
			Name      string    `xml:"name,attr"`
			Classname string    `xml:"classname,attr"`
			Time      string    `xml:"time,attr"`
			Failure   *struct{} `xml:"failure"`
			Error     *struct{} `xml:"error"`
		} `xml:"testcase"`
	} `xml:"testsuite"`
}

func parse(t *testing.T, path string) parsed {
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)

	var p parsed
	require.NoError(t, xml.Unmarshal(data, &p))
	return p
}

func writeArtifact(t *testing.T, dir string) string {
	var buf bytes.Buffer
	require.NoError(t, resultstream.NewEncoder(&buf, resultstream.RunnerNamespace).Encode(records))

	path := filepath.Join(dir, "report_records.gob")
	require.NoError(t, ioutil.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()

	path, err := NewWriter(nil).Write("cfgA", records, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, Fname), path)

	p := parse(t, path)
	require.Len(t, p.Suites, 1)
	s := p.Suites[0]
	assert.Equal(t, "cfgA", s.Name)
	assert.Equal(t, 4, s.Tests)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 1, s.Errors)

	require.Len(t, s.Testcases, 4)
	for i, tc := range s.Testcases {
		assert.Equal(t, records[i].Example, tc.Name)
		assert.Equal(t, string(records[i].Kind), tc.Classname)
	}
	assert.Equal(t, "1.500", s.Testcases[0].Time)
	assert.Nil(t, s.Testcases[0].Failure)
	assert.NotNil(t, s.Testcases[1].Failure)
	assert.NotNil(t, s.Testcases[3].Error)

	leftovers, err := filepath.Glob(filepath.Join(dir, "."+Fname+"-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestWriteEmpty(t *testing.T) {
	path, err := NewWriter(nil).Write("cfgA", nil, t.TempDir())
	require.NoError(t, err)

	p := parse(t, path)
	require.Len(t, p.Suites, 1)
	assert.Empty(t, p.Suites[0].Testcases)
}

func TestProcessDeletesArtifact(t *testing.T) {
	dir := t.TempDir()
	artifact := writeArtifact(t, dir)

	got, err := NewWriter(nil).Process("cfgA", artifact, dir, resultstream.DefaultRegistry())
	require.NoError(t, err)
	assert.Equal(t, records, got)

	_, err = os.Stat(artifact)
	assert.True(t, os.IsNotExist(err))
	assert.FileExists(t, filepath.Join(dir, Fname))
}

func TestProcessTwice(t *testing.T) {
	dir := t.TempDir()
	artifact := writeArtifact(t, dir)
	w := NewWriter(nil)

	_, err := w.Process("cfgA", artifact, dir, resultstream.DefaultRegistry())
	require.NoError(t, err)

	_, err = w.Process("cfgA", artifact, dir, resultstream.DefaultRegistry())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrArtifactNotFound))
	assert.Contains(t, err.Error(), "artifact not found")
}

func TestProcessKeepsArtifactOnWriteFailure(t *testing.T) {
	dir := t.TempDir()
	artifact := writeArtifact(t, dir)

	// a regular file where the report directory should be
	dest := filepath.Join(dir, "not-a-dir")
	require.NoError(t, ioutil.WriteFile(dest, nil, 0644))

	_, err := NewWriter(nil).Process("cfgA", artifact, dest, resultstream.DefaultRegistry())
	require.Error(t, err)
	assert.True(t, errors.As(err, new(types.ErrReportWrite)))
	assert.FileExists(t, artifact)
}

func TestProcessMalformedArtifact(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "report_records.gob")
	require.NoError(t, ioutil.WriteFile(artifact, []byte("garbage"), 0644))

	_, err := NewWriter(nil).Process("cfgA", artifact, dir, resultstream.DefaultRegistry())
	require.Error(t, err)
	assert.True(t, errors.As(err, new(types.ErrDeserialization)))
	assert.NoFileExists(t, filepath.Join(dir, Fname))
}

func TestCounts(t *testing.T) {
	assert.Equal(t, map[types.Status]int{types.Passed: 2, types.Failed: 1, types.Error: 1}, Counts(records))
}
