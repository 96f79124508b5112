//go:build linux

package session

import "golang.org/x/sys/unix"

// lazyUnmount detaches the mount out from under any remaining users,
// falling back to a forced unmount. Used when the backend's own unmount
// fails, typically on a busy mountpoint.
func lazyUnmount(mountpoint string) error {
	if err := unix.Unmount(mountpoint, unix.MNT_DETACH); err == nil {
		return nil
	}
	return unix.Unmount(mountpoint, unix.MNT_FORCE)
}
