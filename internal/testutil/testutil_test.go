package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitForObservesLateCondition(t *testing.T) {
	var flag atomic.Bool
	go func() {
		time.Sleep(20 * time.Millisecond)
		flag.Store(true)
	}()
	WaitFor(t, time.Second, flag.Load)
}
