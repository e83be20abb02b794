//go:build unix

package util

import "syscall"

// ReapZombies performs a non-blocking wait for any already-terminated child
// processes, preventing zombies from accumulating across connection accepts
// and fork-mode tool executions. It is safe to call frequently: with no
// exited children it returns immediately.
func ReapZombies() {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}
	}
}
