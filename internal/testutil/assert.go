// Package testutil holds the small test-assertion helper shared across
// maph's package tests.
package testutil

import "testing"

// Asserter is a closure-based assertion helper: a failed condition
// ends the test with the given message.
type Asserter func(cond bool, format string, args ...interface{})

// New returns an Asserter bound to t. A failed assertion calls
// t.Fatalf with the given format and arguments.
func New(t *testing.T) Asserter {
	return func(cond bool, format string, args ...interface{}) {
		t.Helper()
		if !cond {
			t.Fatalf(format, args...)
		}
	}
}
