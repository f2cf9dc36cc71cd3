// Package rowpool implements the row-strip parallel-for used to dispatch
// per-pixel work across a fixed-height image grid. It is adapted from
// utils.GroupWorkParallel: rather than splitting a total
// work size into ParallelFactor equal groups, it splits a [from, to) row
// range into fixed-height strips (default height 10, per the depth
// estimator's row-partitioner spec) so a caller can reason about strip size
// directly instead of processor count.
package rowpool

import (
	"sync"

	"github.com/pkg/errors"
)

// RowFunc processes one disjoint row strip [yMin, yMax).
type RowFunc func(yMin, yMax int)

// Dispatch splits [from, to) into strips of at most stripHeight rows and runs
// fn over each strip concurrently, recovering panics from any strip and
// surfacing them as an error rather than crashing the process — the only
// suspension point is this call's join.
func Dispatch(from, to, stripHeight int, fn RowFunc) error {
	if stripHeight <= 0 {
		stripHeight = 10
	}
	if to <= from {
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var panics []interface{}

	for yMin := from; yMin < to; yMin += stripHeight {
		yMax := yMin + stripHeight
		if yMax > to {
			yMax = to
		}
		wg.Add(1)
		go func(yMin, yMax int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					panics = append(panics, r)
					mu.Unlock()
				}
			}()
			fn(yMin, yMax)
		}(yMin, yMax)
	}
	wg.Wait()

	if len(panics) > 0 {
		return errors.Errorf("row strip work panicked: %v", panics)
	}
	return nil
}

// NumStrips returns how many strips Dispatch would create for [from, to)
// at the given strip height; useful for tests and diagnostics.
func NumStrips(from, to, stripHeight int) int {
	if stripHeight <= 0 {
		stripHeight = 10
	}
	if to <= from {
		return 0
	}
	n := (to - from) / stripHeight
	if (to-from)%stripHeight != 0 {
		n++
	}
	return n
}
