package process

import (
	"errors"
	"fmt"
	"strings"
)

// ErrProcessTimeout is logged when a process or its drain goroutine does not
// finish within its bounded wait.
var ErrProcessTimeout = errors.New("process did not terminate in time")

// ExitError reports a synchronous invocation that exited non-zero.
type ExitError struct {
	Command  []string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", strings.Join(e.Command, " "), e.ExitCode)
}
