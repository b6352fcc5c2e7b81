// Package stttest provides an in-memory stt.Engine for tests.
package stttest

import (
	"context"
	"sync"
	"sync/atomic"

	"scribe/pkg/stt"
)

// Engine returns Text (or Err) for every call and counts invocations.
type Engine struct {
	Text string
	Err  error

	calls  atomic.Int64
	mu     sync.Mutex
	closed bool
}

func (e *Engine) Name() string   { return "fake-model" }
func (e *Engine) Family() string { return "fake" }

func (e *Engine) Transcribe(ctx context.Context, pcm16k []float32) (stt.Result, error) {
	e.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}
	if e.Err != nil {
		return stt.Result{}, e.Err
	}
	return stt.Result{Text: e.Text}, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Engine) Calls() int { return int(e.calls.Load()) }

func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Opener adapts e to a loader callback.
func (e *Engine) Opener() func(context.Context) (stt.Engine, error) {
	return func(context.Context) (stt.Engine, error) { return e, nil }
}
