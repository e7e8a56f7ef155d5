//go:build !windows

package state

import "syscall"

// flockLock acquires an exclusive lock on the credentials lock file.
func flockLock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_EX)
}

// flockUnlock releases the credentials lock file.
func flockUnlock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_UN)
}
