package lifeloop

import (
	"errors"
	"fmt"

	"github.com/sealteam/sealteam/internal/models"
)

// Sentinel errors backing the error taxonomy buckets.
var (
	// ErrConfiguration covers missing credentials, bad workspace paths,
	// and fan-out without a workspace.
	ErrConfiguration = errors.New("lifeloop: configuration error")

	// ErrTransientIO covers queue, file, and LLM-call failures that were
	// retried with backoff inside the affected operation and still failed.
	ErrTransientIO = errors.New("lifeloop: transient I/O error")

	// ErrNonRetryableLLM covers a 4xx-class (other than 429) LLM failure
	// that the step call surfaces as fatal for that iteration.
	ErrNonRetryableLLM = errors.New("lifeloop: non-retryable LLM error")
)

// StepError annotates an error with the iteration and step in which it
// occurred.
type StepError struct {
	Step      models.Step
	Iteration int
	Cause     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("lifeloop: iteration %d step %s: %v", e.Iteration, e.Step, e.Cause)
}

func (e *StepError) Unwrap() error { return e.Cause }

// RecoveryExhaustedError is raised after three consecutive error
// reflections before the loop resets its counter and continues; it is
// not returned from Run (the loop itself recovers), but is used to
// build the "error" message content sent to the leader.
type RecoveryExhaustedError struct {
	Iteration int
	Details   string
}

func (e *RecoveryExhaustedError) Error() string {
	return fmt.Sprintf("recovery attempts exhausted at iteration %d: %s", e.Iteration, e.Details)
}
