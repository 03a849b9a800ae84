package domain

type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeCancelled OutcomeKind = "cancelled"
)

// Failure reasons surfaced to callers. Details live in Outcome.Err.
const (
	ReasonDownload = "download"
	ReasonChecksum = "checksum mismatch"
)

// Outcome is the terminal result of one fetch-verify task.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Path   string      `json:"path,omitempty"`
	Reason string      `json:"reason,omitempty"`
	Err    error       `json:"-"`
}

func Succeeded(path string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Path: path}
}

func Failed(path, reason string, err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Path: path, Reason: reason, Err: err}
}

func Cancelled(path string) Outcome {
	return Outcome{Kind: OutcomeCancelled, Path: path}
}

// Counted reports whether the outcome advances the run's completed count.
// Cancelled tasks are recorded but never counted.
func (o Outcome) Counted() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeFailed
}

// ErrorString is the detail message for persistence and JSON output.
func (o Outcome) ErrorString() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
