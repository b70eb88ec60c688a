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

// Package memfile is an in-memory aio.Backend for tests.
//
// Writes submitted through ops stay pending until the test completes them
// (in any order), or until the writer waits on them. Data reaches the file
// only at completion, reading the op's buffer at that moment, so a buffer
// reused before its write finished shows up as corrupted content.
package memfile

import (
	"errors"
	"io"
	"os"

	"github.com/cloudwego/filex/aio"
)

var errWhence = errors.New("memfile: invalid whence")

// File implements aio.Backend.
type File struct {
	data    []byte
	cursor  int64
	pending []*op
	closed  bool

	autoComplete   bool
	failSubmit     error
	failCompletion error
	shortBy        int

	ops      int
	waits    int
	submits  int
	maxInFly int
}

var _ aio.Backend = (*File)(nil)

// New returns an empty file whose writes complete only on demand.
func New() *File {
	return &File{}
}

// SetAutoComplete makes every write complete during Submit.
func (f *File) SetAutoComplete(v bool) { f.autoComplete = v }

// FailNextSubmit makes the next Submit fail with err without writing.
func (f *File) FailNextSubmit(err error) { f.failSubmit = err }

// FailNextCompletion makes the next completed write report err without writing.
func (f *File) FailNextCompletion(err error) { f.failCompletion = err }

// ShortenNextCompletion makes the next completed write transfer n fewer bytes.
func (f *File) ShortenNextCompletion(n int) { f.shortBy = n }

// Pending returns the number of outstanding writes.
func (f *File) Pending() int { return len(f.pending) }

// MaxInFlight returns the largest number of writes outstanding at once.
func (f *File) MaxInFlight() int { return f.maxInFly }

// Submits returns the number of writes submitted through ops.
func (f *File) Submits() int { return f.submits }

// Waits returns how many times a caller blocked on an outstanding write.
func (f *File) Waits() int { return f.waits }

// Ops returns the number of live ops.
func (f *File) Ops() int { return f.ops }

// Closed reports whether Close was called.
func (f *File) Closed() bool { return f.closed }

// Bytes returns a copy of the completed content.
func (f *File) Bytes() []byte {
	return append([]byte(nil), f.data...)
}

// PendingOffsets returns the offsets of outstanding writes in submission order.
func (f *File) PendingOffsets() []int64 {
	offs := make([]int64, 0, len(f.pending))
	for _, o := range f.pending {
		offs = append(offs, o.off)
	}
	return offs
}

// Complete finishes the i-th outstanding write in submission order.
func (f *File) Complete(i int) {
	f.pending[i].complete()
}

// CompleteNewest finishes the most recently submitted outstanding write.
func (f *File) CompleteNewest() {
	f.Complete(len(f.pending) - 1)
}

// CompleteAll finishes every outstanding write, newest first.
func (f *File) CompleteAll() {
	for len(f.pending) > 0 {
		f.CompleteNewest()
	}
}

func (f *File) writeAt(p []byte, off int64) {
	if end := off + int64(len(p)); end > int64(len(f.data)) {
		f.data = append(f.data, make([]byte, end-int64(len(f.data)))...)
	}
	copy(f.data[off:], p)
}

func (f *File) NewOp() aio.Op {
	f.ops++
	return &op{f: f, done: true}
}

func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	f.writeAt(p, f.cursor)
	f.cursor += int64(len(p))
	return len(p), nil
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.cursor
	case io.SeekEnd:
		offset += int64(len(f.data))
	default:
		return 0, errWhence
	}
	if offset < 0 {
		return 0, errWhence
	}
	f.cursor = offset
	return offset, nil
}

func (f *File) Size() (int64, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	return int64(len(f.data)), nil
}

func (f *File) Truncate(size int64) error {
	if f.closed {
		return os.ErrClosed
	}
	if size < int64(len(f.data)) {
		f.data = f.data[:size]
		return nil
	}
	f.writeAt(nil, size)
	return nil
}

func (f *File) Sync() error {
	if f.closed {
		return os.ErrClosed
	}
	return nil
}

func (f *File) Close() error {
	if f.closed {
		return os.ErrClosed
	}
	f.CompleteAll()
	f.closed = true
	return nil
}

type op struct {
	f    *File
	buf  []byte
	off  int64
	n    int
	err  error
	done bool
}

func (o *op) Submit(p []byte, off int64) error {
	f := o.f
	if !o.done {
		panic("memfile: submit on an op with a write outstanding")
	}
	if err := f.failSubmit; err != nil {
		f.failSubmit = nil
		return err
	}
	f.submits++
	o.buf, o.off, o.n, o.err, o.done = p, off, 0, nil, false
	f.pending = append(f.pending, o)
	if len(f.pending) > f.maxInFly {
		f.maxInFly = len(f.pending)
	}
	if f.autoComplete {
		o.complete()
	}
	return nil
}

func (o *op) complete() {
	f := o.f
	for i, p := range f.pending {
		if p == o {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
	o.done = true
	if err := f.failCompletion; err != nil {
		f.failCompletion = nil
		o.err = err
		return
	}
	buf := o.buf
	if f.shortBy > 0 {
		buf = buf[:len(buf)-f.shortBy]
		f.shortBy = 0
	}
	f.writeAt(buf, o.off)
	o.n = len(buf)
}

func (o *op) Done() bool {
	return o.done
}

func (o *op) Wait() (int, error) {
	if !o.done {
		o.f.waits++
		o.complete()
	}
	return o.n, o.err
}

func (o *op) Release() {
	o.Wait()
	o.f.ops--
}
