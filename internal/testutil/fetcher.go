// fetcher.go - Scripted snapshot fetcher for testing refresh ordering
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/airq-visualizer/backend/internal/models"
)

// ErrScriptExhausted is returned once every scripted step has been consumed.
var ErrScriptExhausted = errors.New("testutil: fetch script exhausted")

// Step is one scripted fetch outcome. When Gate is set the fetch blocks until
// the gate is closed or the context is cancelled.
type Step struct {
	Snapshot *models.SensorSnapshot
	Err      error
	Gate     chan struct{}
}

// ScriptedFetcher implements fetch.Fetcher by replaying steps in order.
type ScriptedFetcher struct {
	mu      sync.Mutex
	steps   []Step
	calls   int
	started chan int
	repeat  bool
}

// NewScriptedFetcher creates a fetcher that replays steps once each.
func NewScriptedFetcher(steps ...Step) *ScriptedFetcher {
	return &ScriptedFetcher{
		steps:   steps,
		started: make(chan int, 64),
	}
}

// RepeatLast makes the final step answer every further call.
func (f *ScriptedFetcher) RepeatLast() *ScriptedFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repeat = true
	return f
}

// Push appends more steps.
func (f *ScriptedFetcher) Push(steps ...Step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, steps...)
}

// Fetch returns the next scripted outcome.
func (f *ScriptedFetcher) Fetch(ctx context.Context) (*models.SensorSnapshot, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	var step Step
	switch {
	case len(f.steps) > 1 || (len(f.steps) == 1 && !f.repeat):
		step = f.steps[0]
		f.steps = f.steps[1:]
	case len(f.steps) == 1:
		step = f.steps[0]
	default:
		f.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	f.mu.Unlock()

	select {
	case f.started <- call:
	default:
	}

	if step.Gate != nil {
		select {
		case <-step.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return step.Snapshot, step.Err
}

// Calls returns how many fetches were started.
func (f *ScriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Started delivers the call number of each fetch as it begins.
func (f *ScriptedFetcher) Started() <-chan int {
	return f.started
}
