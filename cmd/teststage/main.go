// Copyright 2018-present Skroutz S.A.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/dbd-testing/teststage/cmd/teststage/metrics"
	"github.com/dbd-testing/teststage/pkg/builder"
	"github.com/dbd-testing/teststage/pkg/clusterenv"
	_ "github.com/dbd-testing/teststage/pkg/filesystem/plainfs"
	"github.com/dbd-testing/teststage/pkg/types"
)

// Version contains the release version of teststage, adhering to SemVer.
const Version = "0.1.0"

// VersionSuffix is populated at build-time with -ldflags and typically
// contains the Git SHA1 of the tip that the binary is build from. It is then
// appended to Version.
var VersionSuffix string

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(types.UnexpectedError))
	}
}

func init() {
	// -v is taken by --validate
	cli.VersionFlag = cli.BoolFlag{Name: "version", Usage: "print the version"}

	cli.AppHelpTemplate = fmt.Sprintf(`%s
EXIT CODES:
   0  every example of every configuration passed
   1  at least one example failed
   2  at least one configuration could not be run to completion
`, cli.AppHelpTemplate)
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "teststage"
	app.Usage = "Build cluster configurations and run the examples against each one of them"
	app.ArgsUsage = "CONFIGURATIONS_DIR OUTPUT_DIR"
	app.Version = Version
	if len(VersionSuffix) >= 7 {
		app.Version = Version + "-" + VersionSuffix[:7]
	}
	app.Flags = []cli.Flag{
		cli.StringSliceFlag{
			Name:  "configurations, c",
			Usage: "build only the given configuration files. Comma-separated values and multiple flags are accepted",
		},
		cli.StringSliceFlag{
			Name:  "whitelist, w",
			Usage: "run only the given examples",
		},
		cli.StringSliceFlag{
			Name:  "blacklist, b",
			Usage: "do not run the given examples",
		},
		cli.StringSliceFlag{
			Name:  "validate, v",
			Usage: "only validate the given examples",
		},
		cli.IntFlag{
			Name:  "timeout, t",
			Value: int(DefaultTimeout / time.Second),
			Usage: "timeout after which a running example is killed, in seconds",
		},
		cli.StringFlag{
			Name:  "config",
			Usage: "load settings from `FILE` (YAML or JSON)",
		},
		cli.StringFlag{
			Name:  "metrics-file",
			Usage: "write metrics to `FILE` in the Prometheus text format after the run",
		},
		cli.StringFlag{
			Name:  "pushgateway",
			Usage: "push metrics to the Prometheus Pushgateway at `URL` after the run",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "one of [debug, info, warn, error]",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "one of [text, json]",
		},
	}
	app.Action = run
	return app
}

func run(c *cli.Context) error {
	logger, err := newLogger(c.String("log-level"), c.String("log-format"))
	if err != nil {
		return exitErr(err)
	}

	cfg, err := parseConfigFromCli(c)
	if err != nil {
		return exitErr(err)
	}

	runID := uuid.New().String()
	log := logger.WithField("run_id", runID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := clusterenv.NewCompose(clusterenv.Options{
		Command:        cfg.ComposeCommand,
		PrimaryService: cfg.PrimaryService,
		WorkerService:  cfg.WorkerService,
		ServerLogDir:   cfg.ServerLogDir,
		WorkerLogDir:   cfg.WorkerLogDir,
		ScriptDir:      cfg.ContainerScriptDir,
		DockerHost:     cfg.DockerHost,
	}, log)
	if err != nil {
		return exitErr(err)
	}
	defer env.Close()

	runnerOut := log.WithField("component", "runner").WriterLevel(logrus.DebugLevel)
	defer runnerOut.Close()
	runner := &clusterenv.ExecRunner{Env: env, Command: cfg.RunnerCommand, Output: runnerOut}

	rec := metrics.NewRecorder(log)
	b := builder.New(cfg.BuilderCommand, cfg.CacheDir, log)

	outcome, err := NewOrchestrator(cfg, runID, b, env, runner, rec, log).Run(ctx)
	flushMetrics(c, rec, runID, log)
	if err != nil {
		log.Errorf("%+v", err)
		return exitErr(err)
	}

	if outcome != types.Success {
		return cli.NewExitError("", int(outcome))
	}
	return nil
}

func flushMetrics(c *cli.Context, rec *metrics.Recorder, runID string, log logrus.FieldLogger) {
	if path := c.String("metrics-file"); path != "" {
		err := rec.WriteTextfile(path)
		if err != nil {
			log.Warn(err)
		}
	}
	if url := c.String("pushgateway"); url != "" {
		err := rec.Push(url, runID)
		if err != nil {
			log.Warn(err)
		}
	}
}

func exitErr(err error) error {
	return cli.NewExitError(err.Error(), int(types.UnexpectedError))
}

func parseConfigFromCli(c *cli.Context) (*Config, error) {
	if c.NArg() != 2 {
		return nil, fmt.Errorf("expected CONFIGURATIONS_DIR and OUTPUT_DIR, got %d argument(s)", c.NArg())
	}

	var (
		cfg *Config
		err error
	)
	if path := c.String("config"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("cannot parse configuration; %s", err)
		}
		defer f.Close()
		cfg, err = ParseConfig(f)
		if err != nil {
			return nil, err
		}
	} else {
		cfg, err = ParseConfig(strings.NewReader(""))
		if err != nil {
			return nil, err
		}
	}

	cfg.ConfigurationsDir = c.Args().Get(0)
	cfg.OutputDir = c.Args().Get(1)
	cfg.Selected = splitList(c.StringSlice("configurations"))
	cfg.Whitelist = splitList(c.StringSlice("whitelist"))
	cfg.Blacklist = splitList(c.StringSlice("blacklist"))
	cfg.Validate = splitList(c.StringSlice("validate"))
	cfg.Timeout = time.Duration(c.Int("timeout")) * time.Second

	err = cfg.Check()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList flattens values given either as repeated flags or as a single
// comma-separated flag.
func splitList(values []string) []string {
	var res []string
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				res = append(res, s)
			}
		}
	}
	return res
}

func newLogger(level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.Out = os.Stderr
	l.Level = lvl

	switch format {
	case "text":
		l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	case "json":
		l.Formatter = &logrus.JSONFormatter{}
	default:
		return nil, fmt.Errorf("unknown log format '%s'", format)
	}
	return l, nil
}
