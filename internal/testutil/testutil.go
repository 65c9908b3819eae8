// Package testutil holds small dependency-free helpers shared by tests.
package testutil

import (
	"testing"
	"time"
)

// WaitFor polls cond until it returns true or the deadline passes.
func WaitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}
