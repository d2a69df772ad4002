package types

// Outcome is the result of running the examples of a single configuration.
// It doubles as the process exit status, aggregated by taking the maximum
// over all configurations.
type Outcome int

const (
	// Success means every example of the configuration passed.
	Success Outcome = 0

	// TestFailure means at least one example failed but nothing else went
	// wrong.
	TestFailure Outcome = 1

	// UnexpectedError means the session could not complete, eg. the cluster
	// did not start or the results could not be collected.
	UnexpectedError Outcome = 2
)

// OutcomeFor maps the exit status of the example runner and the error
// returned by a session to an Outcome. Any error wins over the exit status.
func OutcomeFor(status int, err error) Outcome {
	if err != nil {
		return UnexpectedError
	}
	switch status {
	case 0:
		return Success
	case 1:
		return TestFailure
	default:
		return UnexpectedError
	}
}

// Max returns the most severe of the given outcomes, or Success if there are
// none.
func Max(outcomes ...Outcome) Outcome {
	max := Success
	for _, o := range outcomes {
		if o > max {
			max = o
		}
	}
	return max
}

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TestFailure:
		return "test_failure"
	case UnexpectedError:
		return "unexpected_error"
	default:
		return "unknown"
	}
}
