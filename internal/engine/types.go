package engine

// StepStatus is the tri-state outcome of one pipeline step. The distinction
// between "not attempted" and "attempted and failed" is load-bearing for
// callers, so it is encoded as null vs false on the wire.
type StepStatus int

const (
	StepNotAttempted StepStatus = iota
	StepFailed
	StepSucceeded
)

// MarshalJSON encodes the tri-state as null / false / true.
func (s StepStatus) MarshalJSON() ([]byte, error) {
	switch s {
	case StepSucceeded:
		return []byte("true"), nil
	case StepFailed:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

func (s StepStatus) String() string {
	switch s {
	case StepSucceeded:
		return "succeeded"
	case StepFailed:
		return "failed"
	default:
		return "not attempted"
	}
}

// Result is the structured outcome of one reconciliation, returned to the
// webhook caller as a flat object.
type Result struct {
	Case            string     `json:"case,omitempty"`
	AccountName     string     `json:"accountName"`
	CancelLastOrder StepStatus `json:"cancelLastOrder"`
	ClosedPosition  StepStatus `json:"closedPosition"`
	CreateOrder     StepStatus `json:"createOrderRes"`
	Message         string     `json:"msg"`
}
