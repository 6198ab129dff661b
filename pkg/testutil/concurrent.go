// Package testutil holds helpers shared by package tests.
package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	"bookmarks/pkg/platform/sentinel"
)

// ConcurrentResult tallies the outcomes of a RunConcurrent call.
type ConcurrentResult struct {
	Successes int32
	Denied    int32
	Errors    int32
}

func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Denied + r.Errors
}

// RunConcurrent starts n goroutines, holds them at a barrier until all are
// running, then releases them together so calls overlap as much as the
// scheduler allows. fn returning an error wrapping sentinel.ErrQuotaExceeded
// counts as a denial; any other error counts as a failure.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	var (
		ready, done sync.WaitGroup
		start       = make(chan struct{})
		result      ConcurrentResult
	)
	ready.Add(n)
	done.Add(n)

	for i := 0; i < n; i++ {
		go func(idx int) {
			defer done.Done()
			ready.Done()
			<-start

			err := fn(idx)
			switch {
			case err == nil:
				atomic.AddInt32(&result.Successes, 1)
			case errors.Is(err, sentinel.ErrQuotaExceeded):
				atomic.AddInt32(&result.Denied, 1)
			default:
				atomic.AddInt32(&result.Errors, 1)
			}
		}(i)
	}

	ready.Wait()
	close(start)
	done.Wait()
	return &result
}
