package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrArtifactNotFound is returned when the transient result artifact does not
// exist, typically because it was already consumed by a previous report run.
var ErrArtifactNotFound = errors.New("result artifact not found")

// ErrClusterStart indicates the containerized cluster of a configuration
// could not be brought up.
type ErrClusterStart struct {
	Configuration string
	Err           error
}

func (e ErrClusterStart) Error() string {
	return fmt.Sprintf("could not start cluster '%s': %s", e.Configuration, e.Err)
}

func (e ErrClusterStart) Unwrap() error { return e.Err }

// ErrWorkloadExecution indicates the example runner could not be executed or
// exited with a status other than success or test failure.
type ErrWorkloadExecution struct {
	Configuration string
	ExitCode      int
	Err           error
}

func (e ErrWorkloadExecution) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("example runner of '%s' exited with unexpected status %d", e.Configuration, e.ExitCode)
	}
	return fmt.Sprintf("could not run examples of '%s': %s", e.Configuration, e.Err)
}

func (e ErrWorkloadExecution) Unwrap() error { return e.Err }

// ErrWorkloadTimeout indicates the example runner did not finish within the
// configured timeout.
type ErrWorkloadTimeout struct {
	Configuration string
	Timeout       time.Duration
}

func (e ErrWorkloadTimeout) Error() string {
	return fmt.Sprintf("examples of '%s' did not finish after %s", e.Configuration, e.Timeout)
}

// ErrArtifactTransfer indicates a log or result file could not be copied out
// of the running cluster.
type ErrArtifactTransfer struct {
	Artifact string
	Err      error
}

func (e ErrArtifactTransfer) Error() string {
	return fmt.Sprintf("could not transfer '%s': %s", e.Artifact, e.Err)
}

func (e ErrArtifactTransfer) Unwrap() error { return e.Err }

// ErrDeserialization indicates a result stream that is truncated, malformed or
// references a type that cannot be resolved locally.
type ErrDeserialization struct {
	Reason string
	Err    error
}

func (e ErrDeserialization) Error() string {
	if e.Err == nil {
		return "could not deserialize result records: " + e.Reason
	}
	return fmt.Sprintf("could not deserialize result records: %s: %s", e.Reason, e.Err)
}

func (e ErrDeserialization) Unwrap() error { return e.Err }

// ErrReportWrite indicates the report document could not be persisted.
type ErrReportWrite struct {
	Path string
	Err  error
}

func (e ErrReportWrite) Error() string {
	return fmt.Sprintf("could not write report '%s': %s", e.Path, e.Err)
}

func (e ErrReportWrite) Unwrap() error { return e.Err }

// KindOf returns a short, stable name for the kind of err, suitable for log
// fields and metric labels.
func KindOf(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.As(err, new(ErrClusterStart)):
		return "cluster_start"
	case errors.As(err, new(ErrWorkloadTimeout)):
		return "workload_timeout"
	case errors.As(err, new(ErrWorkloadExecution)):
		return "workload_execution"
	case errors.As(err, new(ErrArtifactTransfer)):
		return "artifact_transfer"
	case errors.Is(err, ErrArtifactNotFound):
		return "artifact_not_found"
	case errors.As(err, new(ErrDeserialization)):
		return "deserialization"
	case errors.As(err, new(ErrReportWrite)):
		return "report_write"
	default:
		return "unexpected"
	}
}
