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

// Package aio abstracts the platform primitives a buffered file writer needs:
// positioned asynchronous writes that can be polled or awaited, plus the
// handful of synchronous file calls around them.
//
// Three backends are provided. OpenURing submits writes through Linux
// io_uring and observes completions from the calling goroutine. OpenThreads
// runs writes on a goroutine pool and works everywhere. OpenInline completes
// every write during Submit and is the fallback when neither is available.
package aio

import (
	"errors"
	"io"
)

var (
	// ErrUnsupported is returned when a backend is not available on this platform.
	ErrUnsupported = errors.New("aio: backend not supported on this platform")

	// ErrBackendFailed wraps failures after which a backend can't track its
	// writes any more. A write it reported as finished may still be reading
	// its buffer, and every later Submit fails.
	ErrBackendFailed = errors.New("aio: backend failed")
)

// Op is one reusable asynchronous write slot.
// An Op has at most one write outstanding; it's reused after Wait returns.
type Op interface {
	// Submit starts writing p at file offset off.
	// p must not be modified until the write completes.
	// A non-nil error means the write was not started.
	Submit(p []byte, off int64) error

	// Done reports whether the last submitted write finished, without blocking.
	Done() bool

	// Wait blocks until the last submitted write finished and returns
	// the number of bytes transferred.
	Wait() (int, error)

	// Release frees resources held by the op, waiting for any outstanding write.
	Release()
}

// Backend is an open file plus a factory of write ops targeting it.
type Backend interface {
	// NewOp returns a new write slot for this file.
	NewOp() Op

	// Write writes p at the file cursor and advances it.
	io.Writer
	io.ReaderAt
	io.Seeker

	// Size returns the length of the file as reported by the OS.
	Size() (int64, error)
	Truncate(size int64) error
	Sync() error
	Close() error
}

// result is the outcome of a write which has already finished.
type result struct {
	n   int
	err error
}

func (r *result) Done() bool         { return true }
func (r *result) Wait() (int, error) { return r.n, r.err }
func (r *result) Release()           {}
