package main

import (
	"bytes"
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dbd-testing/teststage/pkg/clusterenv"
	"github.com/dbd-testing/teststage/pkg/filesystem/plainfs"
	"github.com/dbd-testing/teststage/pkg/resultstream"
	"github.com/dbd-testing/teststage/pkg/types"
)

// fakeEnv records the calls made to it. Setting one of the error fields
// makes the respective call fail for every configuration, upErrs makes Up
// fail for the named configurations only.
type fakeEnv struct {
	sync.Mutex

	ups   map[string]int
	downs map[string]int

	upErr       error
	upErrs      map[string]error
	downErr     error
	setupErr    error
	transferErr error

	// records are written as the result artifact of the named
	// configuration; configurations missing from it get no artifact.
	records map[string][]types.ResultRecord

	// downCtxErr is the error of the teardown context when Down was called.
	downCtxErr error
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		ups:     make(map[string]int),
		downs:   make(map[string]int),
		upErrs:  make(map[string]error),
		records: make(map[string][]types.ResultRecord),
	}
}

func (e *fakeEnv) Up(ctx context.Context, dir string) error {
	e.Lock()
	defer e.Unlock()
	name := filepath.Base(dir)
	e.ups[name]++
	if err, ok := e.upErrs[name]; ok {
		return err
	}
	return e.upErr
}

func (e *fakeEnv) Down(ctx context.Context, dir string) error {
	e.Lock()
	defer e.Unlock()
	e.downs[filepath.Base(dir)]++
	e.downCtxErr = ctx.Err()
	return e.downErr
}

func (e *fakeEnv) PrimaryServer(ctx context.Context, dir string) (clusterenv.Container, error) {
	name := filepath.Base(dir)
	return clusterenv.Container{ID: "id-" + name, Name: name + "-oozieserver-1", Service: "oozieserver"}, nil
}

func (e *fakeEnv) Worker(ctx context.Context, dir string) (clusterenv.Container, error) {
	name := filepath.Base(dir)
	return clusterenv.Container{ID: "id-" + name + "-nm", Name: name + "-nodemanager-1", Service: "nodemanager"}, nil
}

func (e *fakeEnv) Setup(ctx context.Context, server clusterenv.Container, innerScriptDir string) error {
	return e.setupErr
}

func (e *fakeEnv) CopyLogfileAndResults(ctx context.Context, server clusterenv.Container, logfile, results, destDir string) error {
	if e.transferErr != nil {
		return e.transferErr
	}
	err := ioutil.WriteFile(filepath.Join(destDir, logfile), []byte("runner log\n"), 0644)
	if err != nil {
		return err
	}

	name := server.ID[len("id-"):]
	e.Lock()
	records, ok := e.records[name]
	e.Unlock()
	if !ok {
		return nil
	}

	var buf bytes.Buffer
	err = resultstream.NewEncoder(&buf, resultstream.RunnerNamespace).Encode(records)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(filepath.Join(destDir, results), buf.Bytes(), 0644)
}

func (e *fakeEnv) CopyServerLogs(ctx context.Context, server clusterenv.Container, destDir string) error {
	return writeLog(destDir, "oozie.log")
}

func (e *fakeEnv) CopyWorkerLogs(ctx context.Context, worker clusterenv.Container, destDir string) error {
	return writeLog(destDir, "yarn.log")
}

func writeLog(dir, name string) error {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(filepath.Join(dir, name), []byte(name), 0644)
}

// fakeRunner returns the configured exit status per server, after delay. A
// server listed in hang blocks until the context is done.
type fakeRunner struct {
	status map[string]int
	hang   map[string]bool
	delay  time.Duration
	err    error

	reqs []clusterenv.RunRequest
}

func (r *fakeRunner) Run(ctx context.Context, server clusterenv.Container, req clusterenv.RunRequest) (int, error) {
	r.reqs = append(r.reqs, req)
	name := server.ID[len("id-"):]
	if r.hang[name] {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	if r.err != nil {
		return 0, r.err
	}
	return r.status[name], nil
}

// fakeBuilder creates an empty deployment directory in outputDir for
// every name in confs.
type fakeBuilder struct {
	confs []string
	err   error
	calls int
}

func (b *fakeBuilder) Build(ctx context.Context, sourceDir string, selected []string, outputDir string) error {
	b.calls++
	if b.err != nil {
		return b.err
	}
	err := os.MkdirAll(outputDir, 0755)
	if err != nil {
		return err
	}
	for _, c := range b.confs {
		err := os.MkdirAll(filepath.Join(outputDir, c), 0755)
		if err != nil {
			return err
		}
	}
	return nil
}

var errBoom = errors.New("boom")

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = ioutil.Discard
	return l
}

func testConfig(t *testing.T) *Config {
	root := t.TempDir()

	cfg := DefaultConfig()
	cfg.ConfigurationsDir = filepath.Join(root, "configurations")
	cfg.OutputDir = filepath.Join(root, "out")
	cfg.ReportsDir = filepath.Join(root, "reports")
	cfg.FileSystem = plainfs.PlainFS{}
	cfg.TeardownTimeout = 5 * time.Second

	require.NoError(t, os.MkdirAll(cfg.ConfigurationsDir, 0755))
	return cfg
}

func passing(examples ...string) []types.ResultRecord {
	var records []types.ResultRecord
	for _, e := range examples {
		records = append(records, types.ResultRecord{Example: e, Kind: types.Run, Status: types.Passed})
	}
	return records
}
