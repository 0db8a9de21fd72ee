// ============================================================================
// Cranium Worker - Work Source Interface
// ============================================================================
//
// Package: internal/worker
// File: source.go
// Purpose: Decouples a Thread from the Pool that feeds it.
//
// Contract:
//   A thread needs two calls from its owner: "give me something to run"
//   and "I am done with it". Tests drive a thread with a scripted source.
//
// ============================================================================

package worker

import (
	"time"
)

// Schedulable is anything a Pool can rotate and run. Implementations are
// used as map keys and must be comparable (pointer receivers in practice).
type Schedulable interface {
	// HasWork reports whether a Process call would find something queued.
	HasWork() bool
	// Process runs one unit of work. It should poll c on long runs.
	Process(c *Cycle)
}

// source feeds a Thread.
type source interface {
	// next returns a processor to run, or nil when nothing has work.
	next() Schedulable
	// executed hands p back once its Process call returned.
	executed(p Schedulable, took time.Duration, panicked bool)
}
