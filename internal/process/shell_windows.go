//go:build windows

package process

// shellArgv runs script through cmd.exe.
func shellArgv(script string) []string {
	return []string{"cmd", "/c", script}
}

// trueArgv is a command that always succeeds.
func trueArgv() []string {
	return []string{"cmd", "/c", "rem"}
}
