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

package filex

import (
	"errors"
	"fmt"
	"io"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/ncw/directio"

	"github.com/cloudwego/filex/aio"
	"github.com/cloudwego/filex/internal/iosched"
)

var (
	// ErrClosed is returned by operations on a closed or unopened Writer.
	ErrClosed = errors.New("filex: writer is closed")

	// ErrNegativePosition is returned when seeking before the start of the file.
	ErrNegativePosition = errors.New("filex: negative position")
)

// Writer is a sequential file writer. See the package documentation.
type Writer struct {
	opts    Options
	backend aio.Backend
	sched   *iosched.Scheduler // nil in ModeSync, kept after Close for Stats
	err     error              // sticky

	writes   uint64
	bytes    int64
	dropped  uint64
	failures uint64
}

// Create creates or truncates the named file and returns a Writer for it.
// opts may be nil to use DefaultOptions.
func Create(path string, opts *Options) (*Writer, error) {
	o, err := prepare(opts)
	if err != nil {
		return nil, err
	}
	b, err := openBackend(path, &o)
	if err != nil {
		return nil, fmt.Errorf("filex: create %s: %w", path, err)
	}
	return newWriter(b, o), nil
}

// NewWriter returns a Writer over an open backend, positioned at offset 0.
// The Writer owns b and closes it on Close.
// In ModeAsyncDirect b must have been opened for direct I/O.
func NewWriter(b aio.Backend, opts *Options) (*Writer, error) {
	o, err := prepare(opts)
	if err != nil {
		return nil, err
	}
	return newWriter(b, o), nil
}

func prepare(opts *Options) (Options, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if err := o.validate(); err != nil {
		return o, err
	}
	o.normalize()
	return o, nil
}

func newWriter(b aio.Backend, o Options) *Writer {
	w := &Writer{opts: o, backend: b}
	if o.Mode == ModeSync {
		return w
	}
	cfg := iosched.Config{
		BufferSize: o.BufferSize,
		MinBuffers: o.MinBuffers,
		MaxBuffers: o.MaxBuffers,
		Alloc:      func(size int) []byte { return mcache.Malloc(size) },
		Free:       mcache.Free,
	}
	if o.Mode == ModeAsyncDirect {
		cfg.Align = o.BlockSize
		if cfg.Align == 0 {
			cfg.Align = directio.BlockSize
		}
		cfg.Alloc = directio.AlignedBlock
		cfg.Free = nil
	}
	w.sched = iosched.New(b, cfg)
	return w
}

// IsOpen reports whether the Writer holds an open file.
func (w *Writer) IsOpen() bool {
	return w != nil && w.backend != nil
}

// check records err according to the error policy and returns what the caller
// should report. With DropOnError a lost write is counted and logged instead,
// unless the backend itself failed.
func (w *Writer) check(err error) error {
	if err == nil {
		return nil
	}
	w.failures++
	var we *iosched.WriteError
	if w.opts.DropOnError && errors.As(err, &we) && !errors.Is(err, aio.ErrBackendFailed) {
		w.dropped++
		w.opts.Logger.Warn("filex: write dropped",
			"offset", we.Off, "length", we.Len, "error", we.Err)
		return nil
	}
	if w.err == nil {
		w.err = err
	}
	return w.err
}

// Write copies p into the buffer pool, submitting every buffer it fills.
// It blocks only when all buffers have a write outstanding.
// After a failed write every call returns the same error.
//
// When a chunk can't be submitted, n excludes the bytes of p it held, so
// p[n:] is what didn't reach the writer. Bytes of earlier calls that were
// lost are reported only through the *iosched.WriteError.
func (w *Writer) Write(p []byte) (int, error) {
	if !w.IsOpen() {
		return 0, ErrClosed
	}
	if w.err != nil {
		return 0, w.err
	}
	w.writes++
	if w.sched == nil {
		n, err := w.backend.Write(p)
		w.bytes += int64(n)
		if err != nil {
			w.failures++
		}
		return n, err
	}
	var err error
	n := 0
	for n < len(p) {
		if _, eerr := w.sched.Ensure(); w.check(eerr) != nil {
			err = w.err
			break
		}
		k := w.sched.Accept(p[n:])
		n += k
		if w.sched.HeadFull() {
			if w.check(w.sched.Submit()) != nil {
				n -= k // lost with the chunk
				err = w.err
				break
			}
		}
	}
	w.bytes += int64(n)
	return n, err
}

// Position returns the logical offset of the next byte written,
// or -1 if the Writer isn't open.
func (w *Writer) Position() int64 {
	if !w.IsOpen() {
		return -1
	}
	if w.sched == nil {
		pos, err := w.backend.Seek(0, io.SeekCurrent)
		if err != nil {
			return -1
		}
		return pos
	}
	return w.sched.Position()
}

// Size returns the length of the file including writes still in flight,
// or 0 if the Writer isn't open. It never decreases while writing.
func (w *Writer) Size() int64 {
	if !w.IsOpen() {
		return 0
	}
	if w.opts.Mode == ModeAsyncDirect {
		// the file itself may hold block padding
		return w.sched.Watermark()
	}
	size, err := w.backend.Size()
	if err != nil {
		size = 0
	}
	if w.sched != nil && w.sched.Watermark() > size {
		size = w.sched.Watermark()
	}
	return size
}

// SetPosition moves the logical position to pos after every outstanding
// write has completed. Seeking past the end extends the watermark.
func (w *Writer) SetPosition(pos int64) error {
	if !w.IsOpen() {
		return ErrClosed
	}
	if pos < 0 {
		return ErrNegativePosition
	}
	if w.err != nil {
		return w.err
	}
	if w.sched != nil {
		if err := w.check(w.sched.Seek(pos)); err != nil {
			return err
		}
	}
	if _, err := w.backend.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("filex: seek to %d: %w", pos, err)
	}
	return nil
}

// Seek implements io.Seeker on top of SetPosition.
func (w *Writer) Seek(offset int64, whence int) (int64, error) {
	if !w.IsOpen() {
		return 0, ErrClosed
	}
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += w.Position()
	case io.SeekEnd:
		offset += w.Size()
	default:
		return 0, fmt.Errorf("filex: invalid whence %d", whence)
	}
	if err := w.SetPosition(offset); err != nil {
		return 0, err
	}
	return offset, nil
}

// Flush submits buffered bytes and waits for every outstanding write.
func (w *Writer) Flush() error {
	if !w.IsOpen() {
		return ErrClosed
	}
	if w.err != nil {
		return w.err
	}
	if w.sched == nil {
		return nil
	}
	return w.check(w.sched.Drain())
}

// Sync flushes and commits the file to stable storage.
func (w *Writer) Sync() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.backend.Sync()
}

// Close flushes, waits for every outstanding write and closes the file.
// It returns the first error the Writer ran into. Closing twice is a no-op.
func (w *Writer) Close() error {
	if !w.IsOpen() {
		return nil
	}
	err := w.err
	if s := w.sched; s != nil {
		if derr := w.check(s.Drain()); err == nil {
			err = derr
		}
		if w.opts.Mode == ModeAsyncDirect {
			if terr := w.backend.Truncate(s.Watermark()); err == nil && terr != nil {
				err = fmt.Errorf("filex: truncate: %w", terr)
			}
		}
		s.Release()
	}
	if cerr := w.backend.Close(); err == nil {
		err = cerr
	}
	w.backend = nil
	return err
}
