package main

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/dbd-testing/teststage/pkg/filesystem"
	"github.com/dbd-testing/teststage/pkg/utils"
)

const (
	// DefaultTimeout is the timeout after which a running example is
	// killed by the example runner, if none is given.
	DefaultTimeout = 180 * time.Second

	// DefaultRunTimeout bounds the whole example run of a configuration,
	// as seen from the host.
	DefaultRunTimeout = 3 * time.Hour
)

// Config holds the configuration values of a test stage run.
type Config struct {
	// command-line provided
	ConfigurationsDir string        `yaml:"-"`
	OutputDir         string        `yaml:"-"`
	Selected          []string      `yaml:"-"`
	Whitelist         []string      `yaml:"-"`
	Blacklist         []string      `yaml:"-"`
	Validate          []string      `yaml:"-"`
	Timeout           time.Duration `yaml:"-"`

	FileSystem filesystem.FileSystem `yaml:"-"`

	ReportsDir     string   `yaml:"reports_dir"`
	BuilderCommand []string `yaml:"builder_command"`
	CacheDir       string   `yaml:"cache_dir"`

	ComposeCommand []string `yaml:"compose_command"`
	DockerHost     string   `yaml:"docker_host"`
	PrimaryService string   `yaml:"primary_service"`
	WorkerService  string   `yaml:"worker_service"`
	ServerLogDir   string   `yaml:"server_log_dir"`
	WorkerLogDir   string   `yaml:"worker_log_dir"`

	// InnerScriptDir is the local directory installed into the primary
	// server as ContainerScriptDir, from where RunnerCommand runs.
	InnerScriptDir     string   `yaml:"inner_script_dir"`
	ContainerScriptDir string   `yaml:"container_script_dir"`
	RunnerCommand      []string `yaml:"runner_command"`
	Logfile            string   `yaml:"logfile"`
	ResultsFile        string   `yaml:"results_file"`

	// RunTimeout bounds the wait for the example runner of a
	// configuration. Timeout is enforced per example by the runner itself.
	RunTimeout      time.Duration `yaml:"run_timeout"`
	TeardownTimeout time.Duration `yaml:"teardown_timeout"`
	Filesystem      string        `yaml:"filesystem"`
}

// DefaultConfig returns the configuration used when no configuration file is
// given.
func DefaultConfig() *Config {
	return &Config{
		Timeout:            DefaultTimeout,
		ReportsDir:         "testing/reports",
		BuilderCommand:     []string{"python3", "testing/dbd/run_dbd.py"},
		CacheDir:           "./dbd_cache",
		ComposeCommand:     []string{"docker", "compose"},
		PrimaryService:     "oozieserver",
		WorkerService:      "nodemanager",
		ServerLogDir:       "/opt/oozie/logs",
		WorkerLogDir:       "/opt/hadoop/logs",
		InnerScriptDir:     "testing/inside_container",
		ContainerScriptDir: "/opt/teststage",
		RunnerCommand:      []string{"python3", "/opt/teststage/example_runner.py"},
		Logfile:            "example_runner.log",
		ResultsFile:        "report_records.gob",
		RunTimeout:         DefaultRunTimeout,
		TeardownTimeout:    10 * time.Minute,
		Filesystem:         "plain",
	}
}

// ParseConfig reads a YAML (or JSON) configuration from r on top of the
// defaults and returns it. Unknown keys are rejected.
func ParseConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}

	err = yaml.UnmarshalStrict(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot parse configuration; %s", err)
	}

	cfg.FileSystem, err = filesystem.Get(cfg.Filesystem)
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.ReportsDir == "":
		return nil, errors.New("reports_dir must be provided")
	case len(cfg.BuilderCommand) == 0:
		return nil, errors.New("builder_command must be provided")
	case len(cfg.ComposeCommand) == 0:
		return nil, errors.New("compose_command must be provided")
	case len(cfg.RunnerCommand) == 0:
		return nil, errors.New("runner_command must be provided")
	case cfg.PrimaryService == "" || cfg.WorkerService == "":
		return nil, errors.New("primary_service and worker_service must be provided")
	case cfg.Logfile == "" || cfg.ResultsFile == "":
		return nil, errors.New("logfile and results_file must be provided")
	case cfg.RunTimeout <= 0:
		return nil, errors.New("run_timeout must be positive")
	case cfg.TeardownTimeout <= 0:
		return nil, errors.New("teardown_timeout must be positive")
	}

	return cfg, nil
}

// Check validates the command-line provided values of cfg.
func (cfg *Config) Check() error {
	err := utils.PathIsDir(cfg.ConfigurationsDir)
	if err != nil {
		return fmt.Errorf("invalid configurations dir; %s", err)
	}
	if cfg.OutputDir == "" {
		return errors.New("output dir must be provided")
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}
