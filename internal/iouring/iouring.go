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

//go:build linux

package iouring

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Ring is an io_uring instance with its memory-mapped queues.
// It's not safe for concurrent use.
type Ring struct {
	fd      int
	params  Params
	sq      submissionQueue
	cq      completionQueue
	sqeMem  []byte // mmap'd SQE array
	ringMem []byte // mmap'd SQ/CQ rings (IORING_FEAT_SINGLE_MMAP)
}

// submissionQueue: app produces (tail), kernel consumes (head).
type submissionQueue struct {
	head     *uint32
	tail     *uint32
	ringMask uint32
	entries  uint32
	array    unsafe.Pointer // SQE index indirection array
	sqes     []SQE
}

// completionQueue: kernel produces (tail), app consumes (head).
type completionQueue struct {
	head     *uint32
	tail     *uint32
	ringMask uint32
	cqes     []CQE
}

// New creates a ring with at least entries submission slots.
// The kernel rounds entries up to a power of two.
func New(entries uint32) (*Ring, error) {
	if entries == 0 {
		entries = 1
	}
	r := &Ring{fd: -1}
	fd, err := Setup(entries, &r.params)
	if err != nil {
		return nil, fmt.Errorf("io_uring_setup: %w", err)
	}
	r.fd = fd
	p := &r.params
	if p.Features&IORING_FEAT_SINGLE_MMAP == 0 {
		r.Close()
		return nil, fmt.Errorf("io_uring: kernel lacks IORING_FEAT_SINGLE_MMAP: %w", unix.ENOSYS)
	}

	sqSize := p.SQOff.Array + p.SQEntries*uint32(unsafe.Sizeof(uint32(0)))
	cqSize := p.CQOff.CQEs + p.CQEntries*uint32(unsafe.Sizeof(CQE{}))
	size := sqSize
	if cqSize > size {
		size = cqSize
	}
	r.ringMem, err = unix.Mmap(fd, IORING_OFF_SQ_RING, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("io_uring: mmap rings: %w", err)
	}
	sqeSize := p.SQEntries * uint32(unsafe.Sizeof(SQE{}))
	r.sqeMem, err = unix.Mmap(fd, IORING_OFF_SQES, int(sqeSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("io_uring: mmap sqes: %w", err)
	}

	r.sq.head = r.u32(p.SQOff.Head)
	r.sq.tail = r.u32(p.SQOff.Tail)
	r.sq.ringMask = *r.u32(p.SQOff.RingMask)
	r.sq.entries = *r.u32(p.SQOff.RingEntries)
	r.sq.array = unsafe.Pointer(&r.ringMem[p.SQOff.Array])
	r.sq.sqes = unsafe.Slice((*SQE)(unsafe.Pointer(&r.sqeMem[0])), p.SQEntries)

	r.cq.head = r.u32(p.CQOff.Head)
	r.cq.tail = r.u32(p.CQOff.Tail)
	r.cq.ringMask = *r.u32(p.CQOff.RingMask)
	r.cq.cqes = unsafe.Slice((*CQE)(unsafe.Pointer(&r.ringMem[p.CQOff.CQEs])), p.CQEntries)
	return r, nil
}

func (r *Ring) u32(off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.ringMem[off]))
}

// Entries returns the number of submission slots.
func (r *Ring) Entries() uint32 {
	return r.sq.entries
}

// PeekSQE returns a zeroed submission entry for the caller to fill,
// or nil if the submission queue is full.
// The entry is not visible to the kernel until AdvanceSQ.
func (r *Ring) PeekSQE() *SQE {
	q := &r.sq
	tail := atomic.LoadUint32(q.tail)
	if tail-atomic.LoadUint32(q.head) >= q.entries {
		return nil
	}
	idx := tail & q.ringMask
	sqe := &q.sqes[idx]
	*sqe = SQE{}
	*(*uint32)(unsafe.Add(q.array, uintptr(idx)*4)) = idx
	return sqe
}

// AdvanceSQ publishes the entry returned by PeekSQE.
func (r *Ring) AdvanceSQ() {
	atomic.AddUint32(r.sq.tail, 1)
}

// PendingSQEs returns the number of published entries not yet consumed by the kernel.
func (r *Ring) PendingSQEs() uint32 {
	return atomic.LoadUint32(r.sq.tail) - atomic.LoadUint32(r.sq.head)
}

// Submit hands published entries to the kernel and returns how many it took.
func (r *Ring) Submit() (int, error) {
	n := r.PendingSQEs()
	if n == 0 {
		return 0, nil
	}
	for {
		submitted, errno := Enter(r.fd, n, 0, 0)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return submitted, errno
		}
		return submitted, nil
	}
}

// PopCQE consumes the oldest completion without blocking.
func (r *Ring) PopCQE() (CQE, bool) {
	q := &r.cq
	head := atomic.LoadUint32(q.head)
	if head == atomic.LoadUint32(q.tail) {
		return CQE{}, false
	}
	cqe := q.cqes[head&q.ringMask]
	atomic.StoreUint32(q.head, head+1)
	return cqe, true
}

// WaitCQE blocks until a completion is available and consumes it.
func (r *Ring) WaitCQE() (CQE, error) {
	for {
		if cqe, ok := r.PopCQE(); ok {
			return cqe, nil
		}
		_, errno := Enter(r.fd, 0, 1, IORING_ENTER_GETEVENTS)
		if errno != 0 && errno != unix.EINTR && errno != unix.EAGAIN {
			return CQE{}, errno
		}
	}
}

// Close unmaps the rings and closes the ring fd.
// In-flight operations must be reaped before Close.
func (r *Ring) Close() error {
	if r == nil {
		return nil
	}
	var firstErr error
	if r.sqeMem != nil {
		if err := unix.Munmap(r.sqeMem); err != nil && firstErr == nil {
			firstErr = err
		}
		r.sqeMem = nil
	}
	if r.ringMem != nil {
		if err := unix.Munmap(r.ringMem); err != nil && firstErr == nil {
			firstErr = err
		}
		r.ringMem = nil
	}
	if r.fd >= 0 {
		if err := unix.Close(r.fd); err != nil && firstErr == nil {
			firstErr = err
		}
		r.fd = -1
	}
	return firstErr
}
