package main

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"time"

	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dbd-testing/teststage/pkg/clusterenv"
	"github.com/dbd-testing/teststage/pkg/filesystem"
	"github.com/dbd-testing/teststage/pkg/report"
	"github.com/dbd-testing/teststage/pkg/resultstream"
	"github.com/dbd-testing/teststage/pkg/types"
)

// SessionInfoFname is the file inside the report directory of a
// configuration, containing the session info.
const SessionInfoFname = "session_info.json"

// ClusterEnv manages the containerized cluster of a configuration.
type ClusterEnv interface {
	Up(ctx context.Context, dir string) error
	Down(ctx context.Context, dir string) error
	PrimaryServer(ctx context.Context, dir string) (clusterenv.Container, error)
	Worker(ctx context.Context, dir string) (clusterenv.Container, error)
	Setup(ctx context.Context, server clusterenv.Container, innerScriptDir string) error
	CopyLogfileAndResults(ctx context.Context, server clusterenv.Container, logfile, results, destDir string) error
	CopyServerLogs(ctx context.Context, server clusterenv.Container, destDir string) error
	CopyWorkerLogs(ctx context.Context, worker clusterenv.Container, destDir string) error
}

// ExampleRunner runs the examples inside the primary server of a cluster
// and returns the exit status of the run: 0 if every example passed, 1 if
// any failed.
type ExampleRunner interface {
	Run(ctx context.Context, server clusterenv.Container, req clusterenv.RunRequest) (int, error)
}

// State is the lifecycle state of a Session.
type State string

const (
	Pending    State = "pending"
	Starting   State = "starting"
	Running    State = "running"
	Collecting State = "collecting"
	Reporting  State = "reporting"
	Stopping   State = "stopping"
	Stopped    State = "stopped"
)

// Session brings the cluster of a single configuration up, runs the
// examples in it, collects the logs and results, writes the report and
// tears the cluster down.
type Session struct {
	Configuration types.Configuration
	ReportDir     string
	State         State
	Info          *types.SessionInfo

	Log logrus.FieldLogger

	cfg      *Config
	env      ClusterEnv
	runner   ExampleRunner
	writer   *report.Writer
	registry *resultstream.Registry
}

// NewSession returns a Session for conf. Its report directory is named after
// the configuration, inside cfg.ReportsDir.
func NewSession(cfg *Config, runID string, conf types.Configuration, env ClusterEnv, runner ExampleRunner, logger logrus.FieldLogger) *Session {
	log := logger.WithField("configuration", conf.Name)
	return &Session{
		Configuration: conf,
		ReportDir:     filepath.Join(cfg.ReportsDir, conf.Name),
		State:         Pending,
		Info:          types.NewSessionInfo(runID, conf.Name),
		Log:           log,
		cfg:           cfg,
		env:           env,
		runner:        runner,
		writer:        report.NewWriter(log),
		registry:      resultstream.DefaultRegistry(),
	}
}

func (s *Session) String() string {
	return s.Configuration.Name
}

// setState moves the session to st. s.Info keeps the last state before
// teardown, so that it tells where a failed session stopped.
func (s *Session) setState(st State) {
	s.State = st
	if st != Stopping && st != Stopped {
		s.Info.State = string(st)
	}
	s.Log.WithField("state", st).Debug("entering state")
}

// Run performs the session and returns the exit status of the example
// runner. Any error that prevented the session from completing is returned
// as well; the exit status is irrelevant in that case.
//
// The cluster is torn down on every path out of Run, exactly once. A
// teardown failure is logged and recorded in the session info, but it does
// not affect the returned values.
func (s *Session) Run(ctx context.Context) (status int, err error) {
	status = types.RunnerFailureExitCode
	start := time.Now()

	defer func() {
		s.Info.Duration = time.Since(start).Truncate(time.Millisecond)
		s.Info.RunnerExitCode = status
		s.Info.Outcome = types.OutcomeFor(status, err)
		if err != nil {
			s.Info.Err = err.Error()
			s.Info.ErrKind = types.KindOf(err)
			s.Log.WithField("error_kind", s.Info.ErrKind).Errorf("session failed: %+v", err)
		}

		perr := s.persistInfo()
		if perr != nil {
			s.Log.Warnf("could not persist session info: %s", perr)
		}

		s.Log.WithField("outcome", s.Info.Outcome).Infof("finished after %s", units.HumanDuration(s.Info.Duration))
	}()

	defer func() {
		s.setState(Stopping)
		derr := s.teardown()
		if derr != nil {
			s.Info.TeardownErr = derr.Error()
			s.Log.Errorf("could not tear cluster down: %+v", derr)
		}
		s.setState(Stopped)
	}()

	s.setState(Starting)
	err = filesystem.Reset(s.cfg.FileSystem, s.ReportDir)
	if err != nil {
		return status, errors.Wrap(err, "could not reset report dir")
	}

	err = s.env.Up(ctx, s.Configuration.Path)
	if err != nil {
		return status, errors.WithStack(types.ErrClusterStart{Configuration: s.Configuration.Name, Err: err})
	}
	s.Log.Info("cluster is up")

	s.setState(Running)
	server, err := s.env.PrimaryServer(ctx, s.Configuration.Path)
	if err != nil {
		return status, errors.WithStack(types.ErrClusterStart{Configuration: s.Configuration.Name, Err: err})
	}

	err = s.env.Setup(ctx, server, s.cfg.InnerScriptDir)
	if err != nil {
		return status, errors.WithStack(types.ErrWorkloadExecution{Configuration: s.Configuration.Name, Err: err})
	}

	status, err = s.runExamples(ctx, server)
	if err != nil {
		return status, err
	}
	s.Log.WithField("exit_code", status).Info("examples finished")

	s.setState(Collecting)
	err = s.collect(ctx, server)
	if err != nil {
		return status, err
	}

	s.setState(Reporting)
	records, err := s.writer.Process(s.Configuration.Name, filepath.Join(s.ReportDir, s.cfg.ResultsFile), s.ReportDir, s.registry)
	if err != nil {
		return status, errors.WithStack(err)
	}
	s.Info.Records = report.Counts(records)

	return status, nil
}

// runExamples runs the example runner, bounded by the run timeout. The
// per-example timeout is handed over to the runner.
func (s *Session) runExamples(ctx context.Context, server clusterenv.Container) (int, error) {
	req := clusterenv.RunRequest{
		Logfile:     s.cfg.Logfile,
		ResultsFile: s.cfg.ResultsFile,
		Whitelist:   s.cfg.Whitelist,
		Blacklist:   s.cfg.Blacklist,
		Validate:    s.cfg.Validate,
		Timeout:     s.cfg.Timeout,
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	s.Log.WithField("server", server.Name).Info("running examples")
	status, err := s.runner.Run(runCtx, server, req)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return status, errors.WithStack(types.ErrWorkloadTimeout{Configuration: s.Configuration.Name, Timeout: s.cfg.RunTimeout})
		}
		return status, errors.WithStack(types.ErrWorkloadExecution{Configuration: s.Configuration.Name, ExitCode: status, Err: err})
	}
	if status != 0 && status != 1 {
		return status, errors.WithStack(types.ErrWorkloadExecution{Configuration: s.Configuration.Name, ExitCode: status})
	}
	return status, nil
}

// collect copies the runner logfile, the result artifact and the logs of
// the primary server and of the worker node into the report directory.
func (s *Session) collect(ctx context.Context, server clusterenv.Container) error {
	err := s.env.CopyLogfileAndResults(ctx, server, s.cfg.Logfile, s.cfg.ResultsFile, s.ReportDir)
	if err != nil {
		return errors.WithStack(types.ErrArtifactTransfer{Artifact: s.cfg.Logfile + ", " + s.cfg.ResultsFile, Err: err})
	}

	err = s.env.CopyServerLogs(ctx, server, filepath.Join(s.ReportDir, s.cfg.PrimaryService))
	if err != nil {
		return errors.WithStack(types.ErrArtifactTransfer{Artifact: s.cfg.PrimaryService + " logs", Err: err})
	}

	worker, err := s.env.Worker(ctx, s.Configuration.Path)
	if err != nil {
		return errors.WithStack(types.ErrArtifactTransfer{Artifact: s.cfg.WorkerService + " logs", Err: err})
	}

	err = s.env.CopyWorkerLogs(ctx, worker, filepath.Join(s.ReportDir, s.cfg.WorkerService))
	if err != nil {
		return errors.WithStack(types.ErrArtifactTransfer{Artifact: s.cfg.WorkerService + " logs", Err: err})
	}
	return nil
}

// teardown stops the cluster. It does not use the context of the session,
// so that clusters are stopped even when the run was cancelled.
func (s *Session) teardown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TeardownTimeout)
	defer cancel()

	err := s.env.Down(ctx, s.Configuration.Path)
	if err != nil {
		return errors.Wrap(err, "could not stop cluster")
	}
	s.Log.Info("cluster is down")
	return nil
}

// persistInfo persists the JSON-serialized version of s.Info in the report
// directory, if it exists.
func (s *Session) persistInfo() error {
	out, err := json.MarshalIndent(s.Info, "", "  ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(filepath.Join(s.ReportDir, SessionInfoFname), out, 0644)
}
