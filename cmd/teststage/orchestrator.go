package main

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"sort"
	"time"

	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dbd-testing/teststage/cmd/teststage/metrics"
	"github.com/dbd-testing/teststage/pkg/types"
)

// Builder materializes the deployment directories of the configurations
// found in sourceDir into outputDir.
type Builder interface {
	Build(ctx context.Context, sourceDir string, selected []string, outputDir string) error
}

// Orchestrator builds the configurations and runs a Session for each one of
// them, one after the other.
type Orchestrator struct {
	RunID string
	Log   logrus.FieldLogger

	cfg     *Config
	builder Builder
	env     ClusterEnv
	runner  ExampleRunner
	metrics *metrics.Recorder
}

// NewOrchestrator returns an Orchestrator. rec may be nil, in which case no
// metrics are recorded.
func NewOrchestrator(cfg *Config, runID string, b Builder, env ClusterEnv, runner ExampleRunner, rec *metrics.Recorder, logger logrus.FieldLogger) *Orchestrator {
	return &Orchestrator{
		RunID:   runID,
		Log:     logger,
		cfg:     cfg,
		builder: b,
		env:     env,
		runner:  runner,
		metrics: rec,
	}
}

// Run builds the configurations and runs their examples. It returns the
// aggregate outcome: the most severe outcome of all configurations. An error
// is returned only if the configurations could not be built or enumerated.
//
// If ctx is cancelled, the current session is torn down and the remaining
// configurations are not run.
func (o *Orchestrator) Run(ctx context.Context) (types.Outcome, error) {
	start := time.Now()

	o.Log.WithFields(logrus.Fields{"source": o.cfg.ConfigurationsDir, "output": o.cfg.OutputDir}).Info("building configurations")
	err := o.builder.Build(ctx, o.cfg.ConfigurationsDir, o.cfg.Selected, o.cfg.OutputDir)
	if err != nil {
		return types.UnexpectedError, errors.Wrap(err, "could not build configurations")
	}

	confs, err := Configurations(o.cfg.OutputDir)
	if err != nil {
		return types.UnexpectedError, err
	}
	if len(confs) == 0 {
		o.Log.Warnf("no configurations found in %s", o.cfg.OutputDir)
	}

	aggregate := types.Success
	for i, conf := range confs {
		if ctx.Err() != nil {
			o.Log.Warnf("interrupted; skipping %d configuration(s)", len(confs)-i)
			aggregate = types.Max(aggregate, types.UnexpectedError)
			break
		}

		s := NewSession(o.cfg, o.RunID, conf, o.env, o.runner, o.Log)
		status, err := s.Run(ctx)

		outcome := types.OutcomeFor(status, err)
		aggregate = types.Max(aggregate, outcome)
		if o.metrics != nil {
			o.metrics.RecordSession(s.Info)
		}
	}

	d := time.Since(start)
	if o.metrics != nil {
		o.metrics.RecordRun(aggregate, d)
	}
	o.Log.WithFields(logrus.Fields{"configurations": len(confs), "outcome": aggregate}).
		Infof("run finished after %s", units.HumanDuration(d))

	return aggregate, nil
}

// Configurations returns the configurations generated in outputDir: one per
// directory entry, in lexical order.
func Configurations(outputDir string) ([]types.Configuration, error) {
	abs, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, err
	}

	entries, err := ioutil.ReadDir(abs)
	if err != nil {
		return nil, errors.Wrap(err, "could not list configurations")
	}

	var confs []types.Configuration
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		confs = append(confs, types.Configuration{Name: e.Name(), Path: filepath.Join(abs, e.Name())})
	}
	sort.Slice(confs, func(i, j int) bool { return confs[i].Name < confs[j].Name })
	return confs, nil
}
