//go:build !linux

package session

import "errors"

// lazyUnmount has no portable equivalent off Linux; the backend's own
// unmount error stands.
func lazyUnmount(string) error {
	return errors.New("session: forced unmount not supported on this platform")
}
