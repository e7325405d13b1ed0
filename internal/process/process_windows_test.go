//go:build windows

package process

import (
	"os/exec"
	"syscall"
	"testing"
)

// checkSysProcAttrs verifies the child starts in a new process group.
func checkSysProcAttrs(t *testing.T, cmd *exec.Cmd) {
	t.Helper()
	if cmd.SysProcAttr == nil || cmd.SysProcAttr.CreationFlags&CREATE_NEW_PROCESS_GROUP == 0 {
		t.Fatalf("CREATE_NEW_PROCESS_GROUP not set")
	}
}

// processExists reports whether pid is still running.
func processExists(pid int) bool {
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	var code uint32
	if err := syscall.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == 259 // STILL_ACTIVE
}
