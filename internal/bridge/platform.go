//go:build !cgofuse
// +build !cgofuse

package bridge

// DefaultName is the backend used when neither option nor environment
// selects one.
const DefaultName = "gofuse"
