//go:build !unix

package util

// ReapZombies is a no-op on platforms without POSIX child-process semantics.
func ReapZombies() {}
