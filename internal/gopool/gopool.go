/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package gopool runs blocking file writes on a small set of reusable
// goroutines, so asynchronous writes don't spawn a goroutine per request.
package gopool

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// Option configures a GoPool.
type Option struct {
	// MaxIdleWorkers is the number of workers kept waiting for tasks.
	// Workers beyond it exit as soon as the queue is empty.
	MaxIdleWorkers int

	// WorkerMaxIdle is how long an idle worker waits before exiting.
	WorkerMaxIdle time.Duration

	// TaskChanBuffer is the task queue length.
	// When it's full, Go falls back to a plain goroutine.
	TaskChanBuffer int

	// Logger receives panics raised by tasks. nil means slog.Default().
	Logger *slog.Logger
}

// DefaultOption returns the default values of Option.
func DefaultOption() *Option {
	return &Option{
		MaxIdleWorkers: 16,
		WorkerMaxIdle:  10 * time.Second,
		TaskChanBuffer: 64,
	}
}

var defaultGoPool = NewGoPool("__default__", nil)

// Go runs f on the default pool.
func Go(f func()) {
	defaultGoPool.Go(f)
}

// Default returns the shared pool used by Go.
func Default() *GoPool {
	return defaultGoPool
}

// GoPool is a goroutine pool for blocking I/O tasks.
type GoPool struct {
	name    string
	workers int32
	maxIdle int32
	idle    time.Duration
	tasks   chan func()
	logger  *slog.Logger

	panicHandler func(ctx context.Context, r interface{})
}

// NewGoPool creates a pool. o may be nil.
func NewGoPool(name string, o *Option) *GoPool {
	if o == nil {
		o = DefaultOption()
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	idle := o.WorkerMaxIdle
	if idle <= 0 {
		idle = DefaultOption().WorkerMaxIdle
	}
	return &GoPool{
		name:    name,
		maxIdle: int32(o.MaxIdleWorkers),
		idle:    idle,
		tasks:   make(chan func(), o.TaskChanBuffer),
		logger:  logger,
	}
}

// SetPanicHandler replaces the default handler, which logs the panic and stack.
func (p *GoPool) SetPanicHandler(f func(ctx context.Context, r interface{})) {
	p.panicHandler = f
}

// Go runs f in background.
func (p *GoPool) Go(f func()) {
	select {
	case p.tasks <- f:
	default:
		go p.runTask(f)
		return
	}
	if atomic.LoadInt32(&p.workers) > 0 && len(p.tasks) == 0 {
		return
	}
	// every worker is busy
	go p.runWorker()
}

// CurrentWorkers returns the number of live workers.
func (p *GoPool) CurrentWorkers() int {
	return int(atomic.LoadInt32(&p.workers))
}

func (p *GoPool) runTask(f func()) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(context.Background(), r)
				return
			}
			p.logger.Error("gopool: task panicked",
				"pool", p.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	f()
}

func (p *GoPool) runWorker() {
	id := atomic.AddInt32(&p.workers, 1)
	defer atomic.AddInt32(&p.workers, -1)

	if id > p.maxIdle {
		for {
			select {
			case f := <-p.tasks:
				p.runTask(f)
			default:
				return
			}
		}
	}

	t := time.NewTimer(p.idle)
	defer t.Stop()
	for {
		select {
		case f := <-p.tasks:
			p.runTask(f)
			t.Reset(p.idle)
		case <-t.C:
			return
		}
	}
}
