//go:build !windows

package process

// shellArgv runs script through the POSIX shell. The absolute path keeps it
// working when Env replaces PATH.
func shellArgv(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

// trueArgv is a command that always succeeds.
func trueArgv() []string {
	return []string{"/bin/true"}
}
