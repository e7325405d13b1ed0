package process

import "time"

// Status is a snapshot of a running model process.
type Status struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	// ExitCode is -1 while running or when the process died from a signal.
	ExitCode int   `json:"exit_code"`
	ExitErr  error `json:"exit_error,omitempty"`
	Killed   bool  `json:"killed"`
}
