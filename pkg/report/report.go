// Package report renders the result records of a configuration as a JUnit
// XML document and persists it.
package report

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/jstemmer/go-junit-report/v2/junit"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dbd-testing/teststage/pkg/resultstream"
	"github.com/dbd-testing/teststage/pkg/types"
)

// Fname is the name of the report file inside the report directory of a
// configuration.
const Fname = "report_examples.xml"

// Render builds the report document of a configuration: one test suite named
// after the configuration, with one test case per record.
func Render(configuration string, records []types.ResultRecord) *junit.Testsuites {
	suite := junit.Testsuite{Name: configuration}
	suite.SetTimestamp(time.Now())

	var total time.Duration
	for _, r := range records {
		total += r.Duration
		suite.AddTestcase(testcase(r))
	}
	suite.Time = seconds(total)

	doc := &junit.Testsuites{Name: configuration}
	doc.AddSuite(suite)
	return doc
}

func testcase(r types.ResultRecord) junit.Testcase {
	tc := junit.Testcase{
		Name:      r.Example,
		Classname: string(r.Kind),
		Time:      seconds(r.Duration),
	}

	switch r.Status {
	case types.Passed:
	case types.Failed:
		tc.Failure = &junit.Result{Message: reason(r, "example failed"), Data: r.Output}
	default:
		tc.Error = &junit.Result{Message: reason(r, "example errored"), Data: r.Output}
	}

	if r.Output != "" && r.Status == types.Passed {
		tc.SystemOut = &junit.Output{Data: r.Output}
	}
	return tc
}

func reason(r types.ResultRecord, fallback string) string {
	if r.Reason != "" {
		return r.Reason
	}
	return fallback
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

// Writer persists report documents.
type Writer struct {
	Log logrus.FieldLogger
}

// NewWriter returns a Writer. If logger is nil, logging is disabled.
func NewWriter(logger logrus.FieldLogger) *Writer {
	if logger == nil {
		l := logrus.New()
		l.Out = ioutil.Discard
		logger = l
	}
	return &Writer{Log: logger}
}

// Write renders the report of configuration and writes it to destDir,
// returning the path of the report. The file is written atomically; an
// existing report is only replaced by a complete one.
//
// Errors are of type types.ErrReportWrite.
func (w *Writer) Write(configuration string, records []types.ResultRecord, destDir string) (string, error) {
	path := filepath.Join(destDir, Fname)

	err := os.MkdirAll(destDir, 0755)
	if err != nil {
		return "", types.ErrReportWrite{Path: path, Err: err}
	}

	tmp, err := ioutil.TempFile(destDir, "."+Fname+"-")
	if err != nil {
		return "", types.ErrReportWrite{Path: path, Err: err}
	}
	defer os.Remove(tmp.Name())

	err = Render(configuration, records).WriteXML(tmp)
	if err != nil {
		tmp.Close()
		return "", types.ErrReportWrite{Path: path, Err: err}
	}

	err = tmp.Close()
	if err != nil {
		return "", types.ErrReportWrite{Path: path, Err: err}
	}

	err = os.Chmod(tmp.Name(), 0644)
	if err != nil {
		return "", types.ErrReportWrite{Path: path, Err: err}
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		return "", types.ErrReportWrite{Path: path, Err: err}
	}

	w.Log.WithFields(logrus.Fields{"report": path, "records": len(records)}).Info("wrote report")
	return path, nil
}

// Process reads the result artifact at artifactPath, writes the report of
// configuration to destDir and finally deletes the artifact. It returns the
// records found in the artifact. The artifact is kept if the report could not
// be written, so that no results are lost.
//
// Processing the same artifact twice fails with types.ErrArtifactNotFound.
func (w *Writer) Process(configuration, artifactPath, destDir string, reg *resultstream.Registry) ([]types.ResultRecord, error) {
	records, err := resultstream.ReadArtifact(artifactPath, reg)
	if err != nil {
		return nil, err
	}

	_, err = w.Write(configuration, records, destDir)
	if err != nil {
		return nil, err
	}

	err = os.Remove(artifactPath)
	if err != nil {
		return records, errors.Wrap(err, "could not remove result artifact")
	}
	return records, nil
}

// Counts returns the number of records per status.
func Counts(records []types.ResultRecord) map[types.Status]int {
	c := make(map[types.Status]int)
	for _, r := range records {
		c[r.Status]++
	}
	return c
}
