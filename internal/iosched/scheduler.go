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

// Package iosched keeps a pool of write buffers busy against an aio.Backend.
//
// Buffers live in one of two FIFO queues. The head of available accepts
// bytes; a full head is submitted as an asynchronous write and moves to the
// tail of submitted. The oldest submitted buffer is reclaimed once its write
// completes. The logical position advances when a write is submitted, not
// when it completes: writes always target the position at submission time,
// so their completion order never matters.
//
// A Scheduler is driven by a single goroutine. It blocks only in Ensure,
// when every buffer is in flight, and in Drain.
package iosched

import (
	"errors"
	"fmt"
	"io"

	"github.com/eapache/queue"

	"github.com/cloudwego/filex/aio"
)

// Config is fixed at construction.
type Config struct {
	BufferSize int
	MinBuffers int // preallocated
	MaxBuffers int

	// Align enables aligned mode: every write starts at a multiple of Align
	// and has a length that's a multiple of Align. Must be a power of two.
	Align int

	// Alloc and Free manage buffer memory. Alloc must return len == size.
	Alloc func(size int) []byte
	Free  func(buf []byte)
}

func (c *Config) normalize() {
	if c.BufferSize <= 0 {
		c.BufferSize = 8192
	}
	if c.Align > 0 {
		c.BufferSize = (c.BufferSize + c.Align - 1) &^ (c.Align - 1)
	}
	if c.MinBuffers < 0 {
		c.MinBuffers = 0
	}
	if c.MaxBuffers < c.MinBuffers {
		c.MaxBuffers = c.MinBuffers
	}
	if c.MaxBuffers < 1 {
		c.MaxBuffers = 1
	}
	if c.Alloc == nil {
		c.Alloc = func(size int) []byte { return make([]byte, size) }
	}
}

// Buffer is a pooled write buffer with its own in-flight op.
type Buffer struct {
	data []byte
	used int
	off  int64 // target of the last submitted write
	n    int   // length of the last submitted write
	op   aio.Op
}

// Used returns the number of bytes accepted.
func (b *Buffer) Used() int { return b.used }

// Full reports whether the buffer can't accept more bytes.
func (b *Buffer) Full() bool { return b.used == len(b.data) }

// WriteError reports a write which didn't reach the file.
type WriteError struct {
	Off int64
	Len int
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("iosched: write of %d bytes at offset %d: %v", e.Len, e.Off, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Stats counts scheduler activity.
type Stats struct {
	Submits           uint64 // writes handed to the backend
	InlineCompletions uint64 // writes finished during submit
	Reclaims          uint64 // buffers returned to available
	BlockingWaits     uint64 // waits on an unfinished write
	Drains            uint64
	Allocs            uint64
	SubmittedBytes    int64
}

// Scheduler is the buffer pool and its write bookkeeping.
type Scheduler struct {
	cfg     Config
	backend aio.Backend

	available *queue.Queue // of *Buffer, head accepts bytes
	submitted *queue.Queue // of *Buffer, head is the oldest write
	total     int

	pos    int64 // logical position, advanced at submission
	maxPos int64 // watermark

	scratch []byte // one aligned block, aligned mode only
	stats   Stats
}

// New returns a Scheduler writing to b and preallocates cfg.MinBuffers.
func New(b aio.Backend, cfg Config) *Scheduler {
	cfg.normalize()
	s := &Scheduler{
		cfg:       cfg,
		backend:   b,
		available: queue.New(),
		submitted: queue.New(),
	}
	if cfg.Align > 0 {
		s.scratch = cfg.Alloc(cfg.Align)
	}
	for i := 0; i < cfg.MinBuffers; i++ {
		s.available.Add(s.alloc())
	}
	return s
}

func (s *Scheduler) alloc() *Buffer {
	s.total++
	s.stats.Allocs++
	return &Buffer{
		data: s.cfg.Alloc(s.cfg.BufferSize),
		op:   s.backend.NewOp(),
	}
}

func (s *Scheduler) head() *Buffer {
	if s.available.Length() == 0 {
		return nil
	}
	return s.available.Peek().(*Buffer)
}

// Config returns the normalized configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats { return s.stats }

// Buffers returns the number of allocated buffers.
func (s *Scheduler) Buffers() int { return s.total }

// Available returns the number of buffers ready to accept bytes.
func (s *Scheduler) Available() int { return s.available.Length() }

// Submitted returns the number of buffers with a write outstanding.
func (s *Scheduler) Submitted() int { return s.submitted.Length() }

// Logical returns the offset the next submitted write will target.
func (s *Scheduler) Logical() int64 { return s.pos }

// Watermark returns the highest logical position ever reached.
func (s *Scheduler) Watermark() int64 { return s.maxPos }

// Position returns the logical position plus the bytes accepted by the head
// buffer but not yet submitted.
func (s *Scheduler) Position() int64 {
	if h := s.head(); h != nil {
		return s.pos + int64(h.used)
	}
	return s.pos
}

// HeadFull reports whether the head buffer must be submitted before
// accepting more bytes.
func (s *Scheduler) HeadFull() bool {
	h := s.head()
	return h != nil && h.Full()
}

// Accept copies as much of p as fits into the head buffer.
// Call Ensure first; Accept returns 0 without a head buffer.
func (s *Scheduler) Accept(p []byte) int {
	h := s.head()
	if h == nil {
		return 0
	}
	n := copy(h.data[h.used:], p)
	h.used += n
	return n
}

// Ensure returns the head of available, reclaiming or allocating a buffer if
// there is none. When every buffer is in flight it blocks on the oldest one.
// The returned buffer is valid even when a reclaimed write reports an error.
func (s *Scheduler) Ensure() (*Buffer, error) {
	if h := s.head(); h != nil {
		return h, nil
	}
	_, err := s.Reclaim(false)
	if h := s.head(); h != nil {
		return h, err
	}
	if s.total < s.cfg.MaxBuffers {
		b := s.alloc()
		s.available.Add(b)
		return b, err
	}
	for s.head() == nil {
		if _, rerr := s.Reclaim(true); err == nil {
			err = rerr
		}
	}
	return s.head(), err
}

// Submit writes the accepted bytes of the head buffer at the logical position
// and advances it. A write that completes immediately leaves the buffer at the
// head, empty; a pending one moves it to submitted. If the write can't be
// started its bytes are dropped and a *WriteError is returned.
//
// In aligned mode a partial buffer is padded to the block size with the
// current file content, written, and drained; its last partial block is then
// carried into the head buffer so later writes stay aligned. That block is
// carried even when the write fails, so only its full blocks are lost.
func (s *Scheduler) Submit() error {
	h := s.head()
	if h == nil || h.used == 0 {
		return nil
	}
	if a := s.cfg.Align; a > 0 && h.used%a != 0 {
		return s.submitPartial(h)
	}
	return s.submit(h, h.used)
}

// submit writes h.data[:n] at pos, n >= h.used, and advances pos by h.used.
func (s *Scheduler) submit(h *Buffer, n int) error {
	h.off, h.n = s.pos, n
	err := h.op.Submit(h.data[:n], s.pos)
	s.advance(int64(h.used))
	s.stats.Submits++
	if err != nil {
		h.used = 0
		return &WriteError{Off: h.off, Len: n, Err: err}
	}
	s.stats.SubmittedBytes += int64(n)
	if h.op.Done() {
		s.stats.InlineCompletions++
		m, werr := h.op.Wait()
		h.used = 0
		return h.result(m, werr)
	}
	s.available.Remove()
	s.submitted.Add(h)
	return nil
}

func (s *Scheduler) advance(n int64) {
	s.pos += n
	if s.pos > s.maxPos {
		s.maxPos = s.pos
	}
}

func (b *Buffer) result(n int, err error) error {
	if err == nil && n < b.n {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &WriteError{Off: b.off, Len: b.n, Err: err}
	}
	return nil
}

func (s *Scheduler) submitPartial(h *Buffer) error {
	a := s.cfg.Align
	err := s.reclaimAll()

	used := h.used
	tail := used &^ (a - 1)
	if rerr := s.readBlock(s.pos+int64(tail), s.scratch); rerr != nil {
		start := s.pos
		h.used = 0
		s.advance(int64(used))
		s.carry(h.data, used)
		return errors.Join(err, &WriteError{Off: start, Len: used, Err: rerr})
	}
	copy(h.data[used:tail+a], s.scratch[used-tail:])

	if serr := s.submit(h, tail+a); serr != nil {
		// h stayed at the head, empty
		s.carry(h.data, used)
		return errors.Join(err, serr)
	}
	err = errors.Join(err, s.reclaimAll())

	// every buffer is available again; h's data is intact
	s.carry(h.data, used)
	return err
}

// carry moves the last partial block of data[:used] into the head buffer and
// lowers pos to that block's start, which keeps pos aligned. pos must be the
// end of data[:used]. The head may share data.
func (s *Scheduler) carry(data []byte, used int) {
	rem := used & (s.cfg.Align - 1)
	next := s.head()
	copy(next.data, data[used-rem:used])
	next.used = rem
	s.pos -= int64(rem)
}

// readBlock fills block with file content at off, zeroing past EOF.
func (s *Scheduler) readBlock(off int64, block []byte) error {
	n, err := s.backend.ReadAt(block, off)
	if err != nil && err != io.EOF {
		return err
	}
	clear(block[n:])
	return nil
}

func (s *Scheduler) reclaimAll() error {
	var err error
	for s.submitted.Length() > 0 {
		if _, rerr := s.Reclaim(true); err == nil {
			err = rerr
		}
	}
	return err
}

// Reclaim returns the oldest submitted buffer to the tail of available once
// its write completed. Without block it only polls. It reports whether a
// buffer was reclaimed and the outcome of its write.
func (s *Scheduler) Reclaim(block bool) (bool, error) {
	if s.submitted.Length() == 0 {
		return false, nil
	}
	b := s.submitted.Peek().(*Buffer)
	if !b.op.Done() {
		if !block {
			return false, nil
		}
		s.stats.BlockingWaits++
	}
	n, err := b.op.Wait()
	s.submitted.Remove()
	b.used = 0
	s.available.Add(b)
	s.stats.Reclaims++
	return true, b.result(n, err)
}

// Drain submits the head buffer and waits for every outstanding write.
// It returns the first error but always waits for everything.
func (s *Scheduler) Drain() error {
	err := s.Submit()
	if rerr := s.reclaimAll(); err == nil {
		err = rerr
	}
	s.stats.Drains++
	return err
}

// Seek drains and moves the logical position to pos, raising the watermark.
// In aligned mode an unaligned pos preloads the head buffer with the start
// of its block.
func (s *Scheduler) Seek(pos int64) error {
	err := s.Drain()
	if h := s.head(); h != nil {
		h.used = 0 // drop any aligned-mode carry, it belongs to the old position
	}
	s.pos = pos
	if pos > s.maxPos {
		s.maxPos = pos
	}
	a := int64(s.cfg.Align)
	if a == 0 || pos%a == 0 {
		return err
	}
	h, eerr := s.Ensure()
	if err == nil {
		err = eerr
	}
	rem := pos % a
	base := pos - rem
	if rerr := s.readBlock(base, s.scratch); rerr != nil {
		return errors.Join(err, rerr)
	}
	copy(h.data, s.scratch[:rem])
	h.used = int(rem)
	s.pos = base
	return err
}

// Release frees every buffer. Outstanding writes are awaited first.
func (s *Scheduler) Release() {
	for _, q := range []*queue.Queue{s.submitted, s.available} {
		for q.Length() > 0 {
			b := q.Remove().(*Buffer)
			b.op.Release()
			if s.cfg.Free != nil {
				s.cfg.Free(b.data)
			}
			b.data = nil
		}
	}
	if s.scratch != nil && s.cfg.Free != nil {
		s.cfg.Free(s.scratch)
	}
	s.scratch = nil
	s.total = 0
}
