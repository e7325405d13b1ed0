//go:build !windows

package process

import (
	"os/exec"
	"syscall"
	"testing"
)

// checkSysProcAttrs verifies the child gets its own process group.
func checkSysProcAttrs(t *testing.T, cmd *exec.Cmd) {
	t.Helper()
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Fatalf("SysProcAttr Setpgid not set")
	}
}

// processExists reports whether pid is still signalable.
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
