package types

import (
	"fmt"
	"time"
)

// Configuration is one independently deployable cluster variant, as
// materialized by the builder in its own directory.
type Configuration struct {
	// Name is the base name of the generated deployment directory.
	Name string

	// Path is the absolute path of the generated deployment directory,
	// which contains the compose file of the cluster.
	Path string
}

func (c Configuration) String() string {
	return c.Name
}

// Status is the outcome of a single example.
type Status string

const (
	Passed Status = "passed"
	Failed Status = "failed"
	Error  Status = "error"
)

// Kind tells whether an example was executed or only validated.
type Kind string

const (
	Run      Kind = "run"
	Validate Kind = "validate"
)

// ResultRecord is the outcome of running (or validating) a single example
// workload inside the cluster.
type ResultRecord struct {
	Example string
	Kind    Kind
	Status  Status

	// Optional diagnostics
	Duration time.Duration
	Output   string
	Reason   string
}

func (r ResultRecord) String() string {
	return fmt.Sprintf("{example=%s kind=%s status=%s}", r.Example, r.Kind, r.Status)
}
