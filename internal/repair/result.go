package repair

// Outcome classifies a single extraction attempt.
type Outcome int

const (
	// OutcomeSuccess ends the loop with an artifact.
	OutcomeSuccess Outcome = iota + 1
	// OutcomeRetry records the description and asks the model to fix it.
	OutcomeRetry
	// OutcomeFatal aborts the loop without another attempt.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// Result is what an ExtractFunc returns for one model reply.
type Result[T any] struct {
	Outcome     Outcome
	Code        string
	Value       T
	Description string
	Err         error
}

// Success wraps extracted code and the value built from it.
func Success[T any](code string, value T) Result[T] {
	return Result[T]{Outcome: OutcomeSuccess, Code: code, Value: value}
}

// Retry reports a failure the model may be able to fix.
func Retry[T any](description string) Result[T] {
	return Result[T]{Outcome: OutcomeRetry, Description: description}
}

// Fatal reports a failure no amount of retrying will fix.
func Fatal[T any](err error) Result[T] {
	return Result[T]{Outcome: OutcomeFatal, Err: err}
}

// ExtractFunc turns a raw model reply into a Result. tolerant is true once
// the primary budget is spent and the extractor may relax its checks.
type ExtractFunc[T any] func(response string, tolerant bool) Result[T]

// Artifact is the outcome of a successful run.
type Artifact[T any] struct {
	Code     string
	Value    T
	Attempts int
}
