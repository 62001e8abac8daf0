// Package check provides invariant assertions that compile to no-ops
// unless the debug build tag is set.
package check

import "fmt"

// Assert panics when cond is false. Inactive in release builds.
func Assert(cond bool, msg string) {
	if enabled && !cond {
		panic("assertion failed: " + msg)
	}
}

// Assertf is Assert with a formatted message.
func Assertf(cond bool, format string, args ...any) {
	if enabled && !cond {
		panic("assertion failed: " + fmt.Sprintf(format, args...))
	}
}
