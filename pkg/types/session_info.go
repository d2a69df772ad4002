package types

import "time"

// RunnerFailureExitCode is the runner exit status recorded when the session
// failed before the example runner returned.
const RunnerFailureExitCode = -999

// SessionInfo summarizes a finished session. It is persisted next to the
// report of the configuration.
type SessionInfo struct {
	RunID         string        `json:"run_id"`
	Configuration string        `json:"configuration"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`

	// The last state the session reached before tearing the cluster down,
	// eg. "running" if the example runner failed.
	State string `json:"state"`

	// The exit status of the example runner.
	//
	// NOTE: irrelevant if Err is not empty.
	RunnerExitCode int `json:"runner_exit_code"`

	Outcome Outcome `json:"outcome"`

	Err         string `json:"error,omitempty"`
	ErrKind     string `json:"error_kind,omitempty"`
	TeardownErr string `json:"teardown_error,omitempty"`

	// Number of result records per status.
	Records map[Status]int `json:"records,omitempty"`
}

// NewSessionInfo returns a SessionInfo for the given configuration, started
// now.
func NewSessionInfo(runID, configuration string) *SessionInfo {
	si := new(SessionInfo)
	si.RunID = runID
	si.Configuration = configuration
	si.StartedAt = time.Now()
	si.RunnerExitCode = RunnerFailureExitCode
	si.Outcome = UnexpectedError
	return si
}
