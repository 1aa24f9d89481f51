package monitor

import "fmt"

// State is the monitor loop lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	default:
		return "stopped"
	}
}

// Outcome classifies a single capture attempt.
type Outcome int

const (
	OutcomeStored Outcome = iota
	OutcomeNavigationTimeout
	OutcomeBrowserFault
	OutcomeRecognitionFailure
	OutcomeStorageFault
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeNavigationTimeout:
		return "navigation_timeout"
	case OutcomeBrowserFault:
		return "browser_fault"
	case OutcomeRecognitionFailure:
		return "recognition_failure"
	case OutcomeStorageFault:
		return "storage_fault"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ResetsSession reports whether the browser session must be recreated.
func (o Outcome) ResetsSession() bool {
	return o == OutcomeNavigationTimeout || o == OutcomeBrowserFault
}

// Fatal reports whether monitoring has to stop.
func (o Outcome) Fatal() bool {
	return o == OutcomeStorageFault
}

// CaptureError is a failed capture attempt tagged with its outcome.
type CaptureError struct {
	Outcome Outcome
	// Text is the OCR output, set for recognition failures.
	Text string
	Err  error
}

func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Outcome, e.Err)
	}
	return e.Outcome.String()
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

func captureErr(outcome Outcome, err error) *CaptureError {
	return &CaptureError{Outcome: outcome, Err: err}
}
