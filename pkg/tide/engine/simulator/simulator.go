// Package simulator provides the synthetic memory and CPU bound work unit
// that stands in for real incremental work.
package simulator

import (
	"sync/atomic"

	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// Simulator allocates and scans an int32 slice whose length grows with intensity.
// Runs beyond maxConcurrent are skipped rather than queued.
type Simulator struct {
	unitSize    int
	maxElements int
	slots       chan struct{}
	completed   atomic.Int64
	skipped     atomic.Int64
}

// New creates a Simulator. A run at intensity n touches unitSize*n*10
// elements, capped at maxElements when maxElements > 0.
func New(unitSize, maxElements, maxConcurrent int) *Simulator {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Simulator{
		unitSize:    unitSize,
		maxElements: maxElements,
		slots:       make(chan struct{}, maxConcurrent),
	}
}

// Run performs one unit of work and discards the result.
func (s *Simulator) Run(intensity int) {
	select {
	case s.slots <- struct{}{}:
	default:
		s.skipped.Add(1)
		logger.Debugf("Work simulation at intensity %d skipped: all slots busy", intensity)
		return
	}
	defer func() { <-s.slots }()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Work simulation at intensity %d panicked: %v", intensity, r)
		}
	}()

	_ = Compute(intensity, s.unitSize, s.maxElements)
	s.completed.Add(1)
}

// Completed returns how many runs finished.
func (s *Simulator) Completed() int64 {
	return s.completed.Load()
}

// Skipped returns how many runs were dropped for lack of a slot.
func (s *Simulator) Skipped() int64 {
	return s.skipped.Load()
}

// Compute fills data[i] = i % level for level = intensity*10 and returns
// the sum of data[i] * (i % 7).
func Compute(intensity, unitSize, maxElements int) int64 {
	level := intensity * 10
	if level <= 0 || unitSize <= 0 {
		return 0
	}
	size := unitSize * level
	if maxElements > 0 && size > maxElements {
		size = maxElements
	}

	data := make([]int32, size)
	for i := range data {
		data[i] = int32(i % level)
	}

	var sum int64
	for i, v := range data {
		sum += int64(v) * int64(i%7)
	}
	return sum
}

// NoOp is a WorkSimulator that does nothing. Used when simulation is disabled.
type NoOp struct{}

func (NoOp) Run(int) {}
