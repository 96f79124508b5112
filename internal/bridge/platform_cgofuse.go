//go:build cgofuse
// +build cgofuse

package bridge

// DefaultName is the backend used when neither option nor environment
// selects one. Builds tagged cgofuse swap the compiled kernel library, so
// the default follows.
const DefaultName = "cgofuse"
