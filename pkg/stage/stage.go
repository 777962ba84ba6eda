// Package stage implements the per-stage parallel execution model.
//
// A stage takes an ordered list of work items and a per-item worker
// function, fans the items out across a bounded pool of goroutines, and
// reduces the per-item outcomes into an aggregate result. The output is
// positionally aligned with the input regardless of completion order,
// because downstream file numbering depends on the item's position, not
// on when its worker finished.
//
// Worker failures are contained: an error (or panic) in one item's worker
// becomes a failure outcome for that item and never aborts its siblings.
// The only aggregate failure condition is total failure - zero successes
// with at least one failure.
package stage

import (
	"context"
	"fmt"
	"sync"
)

// Status classifies a per-item outcome.
type Status int

const (
	// StatusSuccess means the worker produced a fresh result.
	StatusSuccess Status = iota

	// StatusFailure means the worker failed for this item.
	StatusFailure

	// StatusSkipped means a valid prior result was reused, or the work
	// did not apply to this item.
	StatusSkipped
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result of processing one work item.
type Outcome[O any] struct {
	Status Status

	// Value is set for success and skipped outcomes.
	Value O

	// Err is set for failure outcomes.
	Err error
}

// Success returns a success outcome carrying a fresh value.
func Success[O any](v O) Outcome[O] {
	return Outcome[O]{Status: StatusSuccess, Value: v}
}

// Failure returns a failure outcome carrying the item's error.
func Failure[O any](err error) Outcome[O] {
	return Outcome[O]{Status: StatusFailure, Err: err}
}

// Skipped returns a skipped outcome reusing an existing value.
func Skipped[O any](v O) Outcome[O] {
	return Outcome[O]{Status: StatusSkipped, Value: v}
}

// WorkerFn processes one item. idx is the item's position in the input
// slice; implementations use it for stable output naming.
type WorkerFn[I, O any] func(ctx context.Context, idx int, item I) Outcome[O]

// Result aggregates a completed stage.
type Result[O any] struct {
	// Outcomes holds one outcome per input item, in input order.
	Outcomes []Outcome[O]

	Succeeded int
	Failed    int
	Skipped   int
}

// TotalFailure reports whether the stage failed as a whole.
//
// The condition is exactly zero successes with at least one failure.
// All-skipped is not a total failure: skips are not failures, and a stage
// where every item reused a prior result has nothing to redo. Empty input
// is likewise acceptable.
func (r *Result[O]) TotalFailure() bool {
	return r.Succeeded == 0 && r.Failed > 0
}

// Compact returns the values of all non-failed outcomes in input order.
// This is the input to the next stage's manifest: failed items are dropped,
// surviving items keep their relative order.
func (r *Result[O]) Compact() []O {
	out := make([]O, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Status != StatusFailure {
			out = append(out, o.Value)
		}
	}
	return out
}

// Run fans items out across a pool of concurrency workers and collects
// the outcomes.
//
// Run blocks until every item has an outcome; there is no mid-stage
// preemption. Concurrency below 1 runs a single worker. A panic inside
// fn is recovered and recorded as that item's failure.
func Run[I, O any](ctx context.Context, items []I, fn WorkerFn[I, O], concurrency int) *Result[O] {
	res := &Result[O]{Outcomes: make([]Outcome[O], len(items))}
	if len(items) == 0 {
		return res
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	type task struct {
		idx  int
		item I
	}
	tasks := make(chan task)

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				// Each worker writes only its own slot, so the
				// outcomes slice needs no locking.
				res.Outcomes[t.idx] = runOne(ctx, t.idx, t.item, fn)
			}
		}()
	}

	for i, item := range items {
		tasks <- task{idx: i, item: item}
	}
	close(tasks)
	wg.Wait()

	for _, o := range res.Outcomes {
		switch o.Status {
		case StatusSuccess:
			res.Succeeded++
		case StatusFailure:
			res.Failed++
		case StatusSkipped:
			res.Skipped++
		}
	}
	return res
}

// runOne invokes fn with panic isolation.
func runOne[I, O any](ctx context.Context, idx int, item I, fn WorkerFn[I, O]) (out Outcome[O]) {
	defer func() {
		if r := recover(); r != nil {
			out = Failure[O](fmt.Errorf("worker panic: %v", r))
		}
	}()
	return fn(ctx, idx, item)
}
