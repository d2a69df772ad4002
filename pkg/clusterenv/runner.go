package clusterenv

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RunRequest describes a run of the example runner.
type RunRequest struct {
	// Logfile and ResultsFile are the names of the files the runner writes
	// its log and its result records to, relative to its working directory.
	Logfile     string
	ResultsFile string

	// Whitelist restricts the run to the named examples, Blacklist excludes
	// the named examples and Validate lists the examples that are only
	// validated.
	Whitelist []string
	Blacklist []string
	Validate  []string

	// Timeout after which a running example is killed.
	Timeout time.Duration
}

// Args returns the command line arguments of the runner for r.
func (r RunRequest) Args() []string {
	args := []string{
		"--logfile", r.Logfile,
		"--report-records", r.ResultsFile,
		"--timeout", strconv.Itoa(int(r.Timeout / time.Second)),
	}
	args = appendList(args, "--whitelist", r.Whitelist)
	args = appendList(args, "--blacklist", r.Blacklist)
	args = appendList(args, "--validate", r.Validate)
	return args
}

func appendList(args []string, flag string, values []string) []string {
	if len(values) == 0 {
		return args
	}
	args = append(args, flag)
	return append(args, values...)
}

// ExecRunner runs the example runner inside the primary server of a
// cluster.
type ExecRunner struct {
	Env *Compose

	// Command is the runner command inside the container, eg.
	// ["python3", "/opt/teststage/example_runner.py"].
	Command []string

	// Output receives the combined output of the runner. It may be nil.
	Output io.Writer
}

// KillTimeout bounds the exec that kills a runner left behind by a
// cancelled run.
const KillTimeout = 30 * time.Second

// Run executes the example runner in server and returns its exit status:
// 0 if all examples passed and 1 if any of them failed. It returns when the
// runner exits or ctx is done. In the latter case the runner is killed
// inside the container.
func (r *ExecRunner) Run(ctx context.Context, server Container, req RunRequest) (int, error) {
	if len(r.Command) == 0 {
		return 0, errors.New("no runner command configured")
	}
	cmd := append(append([]string{}, r.Command...), req.Args()...)

	code, err := r.Env.Exec(ctx, server, cmd, r.Env.ScriptDir, r.Output)
	if err != nil && ctx.Err() != nil {
		r.kill(server)
	}
	return code, err
}

// kill stops every process in server whose command line matches the runner
// command.
func (r *ExecRunner) kill(server Container) {
	ctx, cancel := context.WithTimeout(context.Background(), KillTimeout)
	defer cancel()

	pattern := strings.Join(r.Command, " ")
	code, err := r.Env.Exec(ctx, server, []string{"pkill", "-f", pattern}, "", nil)
	log := r.Env.Log.WithFields(logrus.Fields{"container": server.Name, "pattern": pattern})
	switch {
	case err != nil:
		log.Warnf("could not kill example runner: %s", err)
	case code > 1:
		// pkill exits with 1 if nothing matched
		log.Warnf("could not kill example runner: pkill exited with %d", code)
	default:
		log.Info("killed example runner")
	}
}
