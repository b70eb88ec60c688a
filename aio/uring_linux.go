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

package aio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/cloudwego/filex/internal/iouring"
)

// OpenURing returns a Backend which submits writes through a private
// io_uring instance with room for entries writes in flight.
// Completions are reaped by whichever op is polled or awaited, so the
// Backend and its ops must be used from one goroutine.
// On failure f is left open and the error wraps ErrUnsupported.
func OpenURing(f *os.File, entries uint32) (Backend, error) {
	ring, err := iouring.New(entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return &uring{file: file{f}, ring: ring, fd: int32(f.Fd())}, nil
}

type uring struct {
	file
	ring *iouring.Ring
	fd   int32
	ops  []*uringOp // ops[UserData-1]
	err  error      // ring failure, wraps ErrBackendFailed
}

// fail records a ring failure. Completions can't be observed any more, so
// writes still in the kernel are abandoned and new ones are refused.
func (b *uring) fail(err error) error {
	if b.err == nil {
		b.err = fmt.Errorf("%w: io_uring: %w", ErrBackendFailed, err)
	}
	return b.err
}

func (b *uring) NewOp() Op {
	op := &uringOp{b: b, id: uint64(len(b.ops)) + 1}
	b.ops = append(b.ops, op)
	return op
}

// push queues the remaining part of op's write and submits it.
// A failed submission leaves queued entries behind and fails the ring.
func (b *uring) push(op *uringOp) error {
	sqe := b.ring.PeekSQE()
	if sqe == nil {
		if _, err := b.ring.Submit(); err != nil {
			return b.fail(err)
		}
		if sqe = b.ring.PeekSQE(); sqe == nil {
			return syscall.EAGAIN
		}
	}
	iouring.PrepareWrite(sqe, b.fd, op.rest, op.off, op.id)
	b.ring.AdvanceSQ()
	if _, err := b.ring.Submit(); err != nil {
		return b.fail(err)
	}
	return nil
}

// reap consumes every available completion, waiting for one if block is set.
func (b *uring) reap(block bool) error {
	if b.err != nil {
		return b.err
	}
	if block {
		cqe, err := b.ring.WaitCQE()
		if err != nil {
			return b.fail(err)
		}
		b.complete(cqe)
	}
	for {
		cqe, ok := b.ring.PopCQE()
		if !ok {
			return nil
		}
		b.complete(cqe)
	}
}

func (b *uring) complete(cqe iouring.CQE) {
	if cqe.UserData == 0 || cqe.UserData > uint64(len(b.ops)) {
		return
	}
	op := b.ops[cqe.UserData-1]
	if op == nil || !op.pending {
		return
	}
	switch {
	case cqe.Res < 0:
		op.finish(syscall.Errno(-cqe.Res))
	case cqe.Res == 0:
		op.finish(io.ErrShortWrite)
	default:
		k := int(cqe.Res)
		op.n += k
		op.rest = op.rest[k:]
		op.off += int64(k)
		if len(op.rest) == 0 {
			op.finish(nil)
			return
		}
		// short write, resume from where the kernel stopped
		if err := b.push(op); err != nil {
			op.finish(b.fail(err))
		}
	}
}

func (b *uring) Close() error {
	for _, op := range b.ops {
		if op != nil {
			op.Wait()
		}
	}
	return errors.Join(b.File.Close(), b.ring.Close())
}

type uringOp struct {
	b       *uring
	id      uint64
	rest    []byte
	off     int64
	n       int
	err     error
	pending bool
}

func (op *uringOp) Submit(p []byte, off int64) error {
	op.Wait()
	if err := op.b.err; err != nil {
		return err
	}
	op.rest, op.off, op.n, op.err = p, off, 0, nil
	if len(p) == 0 {
		return nil
	}
	if err := op.b.push(op); err != nil {
		return err
	}
	op.pending = true
	return nil
}

func (op *uringOp) finish(err error) {
	op.err = err
	op.rest = nil
	op.pending = false
}

func (op *uringOp) Done() bool {
	if op.pending {
		_ = op.b.reap(false)
	}
	return !op.pending
}

func (op *uringOp) Wait() (int, error) {
	for op.pending {
		if err := op.b.reap(true); err != nil {
			op.finish(err)
		}
	}
	return op.n, op.err
}

func (op *uringOp) Release() {
	op.Wait()
	op.b.ops[op.id-1] = nil
}
