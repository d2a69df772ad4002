// Package clusterenv manages the containerized clusters of configurations:
// it brings them up and down with docker compose and talks to their
// containers through the Docker Engine API.
package clusterenv

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	docker "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dbd-testing/teststage/pkg/utils"
)

const (
	// ProjectLabel and ServiceLabel are the labels docker compose puts on
	// the containers it creates.
	ProjectLabel = "com.docker.compose.project"
	ServiceLabel = "com.docker.compose.service"
)

// Container identifies a running container of a cluster.
type Container struct {
	ID      string
	Name    string
	Service string
}

func (c Container) String() string {
	return fmt.Sprintf("{service=%s name=%s}", c.Service, c.Name)
}

// Options configure a Compose.
type Options struct {
	// Command invokes docker compose, eg. ["docker", "compose"].
	Command []string

	// PrimaryService and WorkerService are the compose services of the
	// primary server and of the worker node.
	PrimaryService string
	WorkerService  string

	// ServerLogDir and WorkerLogDir are the log directories inside the
	// respective containers.
	ServerLogDir string
	WorkerLogDir string

	// ScriptDir is the directory inside the primary server where the
	// example runner is installed and runs from.
	ScriptDir string

	// DockerHost and APIVersion override the Docker Engine endpoint and
	// API version found in the environment.
	DockerHost string
	APIVersion string
}

// Compose implements the cluster environment on top of docker compose.
type Compose struct {
	Options
	Log logrus.FieldLogger

	client *docker.Client
}

// NewCompose returns a Compose. If logger is nil, logging is disabled.
func NewCompose(opts Options, logger logrus.FieldLogger) (*Compose, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("no compose command configured")
	}
	if logger == nil {
		l := logrus.New()
		l.Out = ioutil.Discard
		logger = l
	}

	clientOpts := []docker.Opt{docker.FromEnv}
	if opts.DockerHost != "" {
		clientOpts = append(clientOpts, docker.WithHost(opts.DockerHost))
	}
	if opts.APIVersion != "" {
		clientOpts = append(clientOpts, docker.WithVersion(opts.APIVersion))
	} else {
		clientOpts = append(clientOpts, docker.WithAPIVersionNegotiation())
	}

	client, err := docker.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "could not create docker client")
	}

	return &Compose{Options: opts, Log: logger, client: client}, nil
}

// Close releases the Docker client.
func (c *Compose) Close() error {
	return c.client.Close()
}

var invalidProjectChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// ProjectName returns the compose project name of the cluster generated in
// dir.
func ProjectName(dir string) string {
	name := strings.ToLower(filepath.Base(dir))
	name = invalidProjectChars.ReplaceAllString(name, "")
	return strings.TrimLeft(name, "_-")
}

func (c *Compose) compose(ctx context.Context, dir string, args ...string) error {
	cmd := append(append([]string{}, c.Command...), "--project-name", ProjectName(dir))
	cmd = append(cmd, args...)

	start := time.Now()
	out, err := utils.RunCmdContext(ctx, dir, cmd)
	if err != nil {
		return err
	}
	c.Log.WithFields(logrus.Fields{"project": ProjectName(dir), "command": args[0]}).
		Debugf("compose finished after %s: %s", units.HumanDuration(time.Since(start)), strings.TrimSpace(out))
	return nil
}

// Up starts the cluster generated in dir and waits until its containers
// are running.
func (c *Compose) Up(ctx context.Context, dir string) error {
	return c.compose(ctx, dir, "up", "--detach", "--wait")
}

// Down stops the cluster generated in dir and removes its containers and
// volumes.
func (c *Compose) Down(ctx context.Context, dir string) error {
	return c.compose(ctx, dir, "down", "--volumes", "--remove-orphans")
}

// PrimaryServer returns the primary server container of the cluster
// generated in dir.
func (c *Compose) PrimaryServer(ctx context.Context, dir string) (Container, error) {
	return c.find(ctx, ProjectName(dir), c.PrimaryService)
}

// Worker returns the worker node container of the cluster generated in dir.
func (c *Compose) Worker(ctx context.Context, dir string) (Container, error) {
	return c.find(ctx, ProjectName(dir), c.WorkerService)
}

func (c *Compose) find(ctx context.Context, project, service string) (Container, error) {
	filter := filters.NewArgs(
		filters.Arg("label", ProjectLabel+"="+project),
		filters.Arg("label", ServiceLabel+"="+service),
	)
	containers, err := c.client.ContainerList(ctx, container.ListOptions{Filters: filter})
	if err != nil {
		return Container{}, errors.Wrapf(err, "could not list containers of service '%s'", service)
	}
	if len(containers) == 0 {
		return Container{}, fmt.Errorf("no running container for service '%s' of project '%s'", service, project)
	}

	ctr := containers[0]
	name := ctr.ID
	if len(ctr.Names) > 0 {
		name = strings.TrimPrefix(ctr.Names[0], "/")
	}
	return Container{ID: ctr.ID, Name: name, Service: service}, nil
}

// Setup installs the contents of innerScriptDir into ScriptDir inside
// server.
func (c *Compose) Setup(ctx context.Context, server Container, innerScriptDir string) error {
	archive, err := utils.Tar(innerScriptDir)
	if err != nil {
		return errors.Wrapf(err, "could not archive %s", innerScriptDir)
	}

	var out bytes.Buffer
	code, err := c.Exec(ctx, server, []string{"mkdir", "-p", c.ScriptDir}, "", &out)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("could not create %s in %s: exit status %d (%s)", c.ScriptDir, server, code, strings.TrimSpace(out.String()))
	}

	err = c.client.CopyToContainer(ctx, server.ID, c.ScriptDir, bytes.NewReader(archive), container.CopyToContainerOptions{})
	if err != nil {
		return errors.Wrapf(err, "could not copy %s to %s", innerScriptDir, server)
	}
	return nil
}

// CopyLogfileAndResults copies the runner logfile and the result artifact,
// both relative to ScriptDir, from server to destDir.
func (c *Compose) CopyLogfileAndResults(ctx context.Context, server Container, logfile, results, destDir string) error {
	for _, f := range []string{logfile, results} {
		err := c.copyFrom(ctx, server, path.Join(c.ScriptDir, f), destDir, 0)
		if err != nil {
			return err
		}
	}
	return nil
}

// CopyServerLogs copies the contents of ServerLogDir from server to destDir.
func (c *Compose) CopyServerLogs(ctx context.Context, server Container, destDir string) error {
	return c.copyFrom(ctx, server, c.ServerLogDir, destDir, 1)
}

// CopyWorkerLogs copies the contents of WorkerLogDir from worker to destDir.
func (c *Compose) CopyWorkerLogs(ctx context.Context, worker Container, destDir string) error {
	return c.copyFrom(ctx, worker, c.WorkerLogDir, destDir, 1)
}

func (c *Compose) copyFrom(ctx context.Context, ctr Container, src, destDir string, strip int) error {
	rc, _, err := c.client.CopyFromContainer(ctx, ctr.ID, src)
	if err != nil {
		return errors.Wrapf(err, "could not copy %s from %s", src, ctr)
	}
	defer rc.Close()

	err = utils.Untar(rc, destDir, strip)
	if err != nil {
		return errors.Wrapf(err, "could not extract %s from %s", src, ctr)
	}
	c.Log.WithFields(logrus.Fields{"container": ctr.Name, "src": src, "dest": destDir}).Debug("copied from container")
	return nil
}

// Exec runs cmd inside ctr, in workdir if not empty, writing its combined
// output to out. It blocks until the command exits or ctx is done and returns
// the exit code of the command. If ctx is done first, the attachment is
// closed and ctx.Err() is returned; the command itself keeps running until
// it is killed or the container is stopped.
func (c *Compose) Exec(ctx context.Context, ctr Container, cmd []string, workdir string, out io.Writer) (int, error) {
	if out == nil {
		out = ioutil.Discard
	}

	resp, err := c.client.ContainerExecCreate(ctx, ctr.ID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return 0, errors.Wrapf(err, "could not create exec in %s", ctr)
	}

	hj, err := c.client.ContainerExecAttach(ctx, resp.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, errors.Wrapf(err, "could not attach to exec in %s", ctr)
	}
	defer hj.Close()

	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(out, out, hj.Reader)
		done <- err
	}()

	select {
	case <-ctx.Done():
		hj.Close()
		return 0, ctx.Err()
	case err = <-done:
		if err != nil {
			return 0, errors.Wrapf(err, "could not read exec output of %s", ctr)
		}
	}

	return c.execExitCode(ctx, ctr, resp.ID)
}

// execInspectRetries is how many more times an exec is inspected if the
// daemon still reports it running after its output closed.
const execInspectRetries = 5

// execExitCode returns the exit code of a finished exec.
func (c *Compose) execExitCode(ctx context.Context, ctr Container, execID string) (int, error) {
	for i := 0; ; i++ {
		inspect, err := c.client.ContainerExecInspect(ctx, execID)
		if err != nil {
			return 0, errors.Wrapf(err, "could not inspect exec in %s", ctr)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		if i == execInspectRetries {
			return 0, fmt.Errorf("exec in %s still running after its output closed", ctr)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(i+1) * 50 * time.Millisecond):
		}
	}
}
