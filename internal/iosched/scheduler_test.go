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

package iosched

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/filex/internal/testutils/memfile"
)

func newScheduler(t *testing.T, cfg Config) (*Scheduler, *memfile.File) {
	t.Helper()
	f := memfile.New()
	s := New(f, cfg)
	t.Cleanup(s.Release)
	return s, f
}

// write mirrors the writer's loop over Ensure, Accept and Submit.
func write(s *Scheduler, p []byte) error {
	for len(p) > 0 {
		if _, err := s.Ensure(); err != nil {
			return err
		}
		p = p[s.Accept(p):]
		if s.HeadFull() {
			if err := s.Submit(); err != nil {
				return err
			}
		}
	}
	return nil
}

func TestNewPreallocates(t *testing.T) {
	s, f := newScheduler(t, Config{BufferSize: 16, MinBuffers: 3, MaxBuffers: 2})
	cfg := s.Config()
	assert.Equal(t, 3, cfg.MaxBuffers, "max is raised to min")
	assert.Equal(t, 3, s.Buffers())
	assert.Equal(t, 3, s.Available())
	assert.Equal(t, 3, f.Ops())

	s, _ = newScheduler(t, Config{})
	cfg = s.Config()
	assert.Equal(t, 8192, cfg.BufferSize)
	assert.Equal(t, 1, cfg.MaxBuffers)
	assert.Zero(t, s.Buffers())
}

func TestPositionAdvancesAtSubmission(t *testing.T) {
	s, f := newScheduler(t, Config{BufferSize: 4, MinBuffers: 2, MaxBuffers: 2})

	require.NoError(t, write(s, []byte("ABCDEF")))
	assert.Equal(t, 1, f.Pending())
	assert.Empty(t, f.Bytes(), "nothing completed yet")
	assert.Equal(t, int64(4), s.Logical())
	assert.Equal(t, int64(4), s.Watermark())
	assert.Equal(t, int64(6), s.Position())
	assert.Equal(t, 1, s.Submitted())
	assert.Equal(t, 1, s.Available())

	require.NoError(t, s.Drain())
	assert.Equal(t, "ABCDEF", string(f.Bytes()))
	assert.Equal(t, int64(6), s.Position())
	assert.Equal(t, int64(6), s.Watermark())
	assert.Equal(t, 2, s.Available())
	assert.Zero(t, s.Submitted())
}

func TestInlineCompletionKeepsHead(t *testing.T) {
	s, f := newScheduler(t, Config{BufferSize: 4, MinBuffers: 2, MaxBuffers: 2})
	f.SetAutoComplete(true)

	require.NoError(t, write(s, []byte("ABCDEFGHIJ")))
	st := s.Stats()
	assert.Equal(t, uint64(2), st.Submits)
	assert.Equal(t, uint64(2), st.InlineCompletions)
	assert.Zero(t, s.Submitted())
	assert.Equal(t, 2, s.Available())
	assert.Equal(t, "ABCDEFGH", string(f.Bytes()))
	assert.Equal(t, int64(10), s.Position())
}

func TestReclaim(t *testing.T) {
	s, f := newScheduler(t, Config{BufferSize: 4, MinBuffers: 2, MaxBuffers: 2})

	ok, err := s.Reclaim(true)
	require.NoError(t, err)
	require.False(t, ok, "nothing submitted")

	require.NoError(t, write(s, []byte("ABCD")))
	ok, err = s.Reclaim(false)
	require.NoError(t, err)
	require.False(t, ok, "write still pending")
	require.Equal(t, 1, s.Submitted())

	f.Complete(0)
	ok, err = s.Reclaim(false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, s.Submitted())
	require.Zero(t, f.Waits())
	require.Zero(t, s.Stats().BlockingWaits)
}

func TestEnsureAllocatesOnDemand(t *testing.T) {
	s, f := newScheduler(t, Config{BufferSize: 4, MaxBuffers: 3})
	require.Zero(t, s.Buffers())

	require.NoError(t, write(s, []byte("AAAABBBBCCCC")))
	require.Equal(t, 3, s.Buffers())
	require.Equal(t, 3, s.Submitted())
	require.Zero(t, f.Waits())

	// pool exhausted, the next buffer comes from the oldest write
	_, err := s.Ensure()
	require.NoError(t, err)
	require.Equal(t, 3, s.Buffers())
	require.Equal(t, 1, f.Waits())
	require.Equal(t, uint64(1), s.Stats().BlockingWaits)
	require.Equal(t, []int64{4, 8}, f.PendingOffsets())
}

func TestEnsurePrefersCompletedBuffer(t *testing.T) {
	s, f := newScheduler(t, Config{BufferSize: 4, MinBuffers: 1, MaxBuffers: 4})

	require.NoError(t, write(s, []byte("ABCD")))
	f.Complete(0)
	_, err := s.Ensure()
	require.NoError(t, err)
	require.Equal(t, 1, s.Buffers(), "completed buffer reused instead of allocating")
}

func TestSingleBufferBackpressure(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 10)

	s, f := newScheduler(t, Config{BufferSize: 4, MinBuffers: 1, MaxBuffers: 1})
	require.NoError(t, write(s, data))
	require.NoError(t, s.Drain())

	require.Equal(t, data, f.Bytes())
	require.Equal(t, 1, f.MaxInFlight())
	require.Equal(t, 1, s.Buffers())
	// every buffer after the first waits for its predecessor, plus the drain
	require.Equal(t, 25, f.Waits())
}

func TestChunkingIsTransparent(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	for _, size := range []int{1, 3, 64, 999, 1000, 4096} {
		for _, maxBufs := range []int{1, 2, 16} {
			s, f := newScheduler(t, Config{BufferSize: size, MinBuffers: 1, MaxBuffers: maxBufs})
			for p := data; len(p) > 0; {
				n := min(len(p), 37)
				require.NoError(t, write(s, p[:n]))
				p = p[n:]
			}
			require.Equal(t, int64(len(data)), s.Position())
			require.NoError(t, s.Drain())
			require.Equal(t, data, f.Bytes(), "size=%d max=%d", size, maxBufs)
		}
	}
}

func TestOutOfOrderCompletion(t *testing.T) {
	s, f := newScheduler(t, Config{BufferSize: 4, MinBuffers: 4, MaxBuffers: 4})

	require.NoError(t, write(s, []byte("AAAABBBBCCCCDD")))
	require.Equal(t, []int64{0, 4, 8}, f.PendingOffsets())
	f.Complete(2)
	f.Complete(0)

	// only the oldest write is considered for reclaim
	ok, err := s.Reclaim(false)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Reclaim(false)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Drain())
	require.Equal(t, "AAAABBBBCCCCDD", string(f.Bytes()))
}

func TestSubmitFailureDropsChunk(t *testing.T) {
	s, f := newScheduler(t, Config{BufferSize: 4, MinBuffers: 2, MaxBuffers: 2})
	boom := errors.New("boom")

	f.FailNextSubmit(boom)
	err := write(s, []byte("ABCD"))
	require.ErrorIs(t, err, boom)
	var we *WriteError
	require.ErrorAs(t, err, &we)
	require.Equal(t, int64(0), we.Off)
	require.Equal(t, 4, we.Len)

	require.Equal(t, int64(4), s.Logical(), "position advances even when the chunk is lost")
	require.Equal(t, 2, s.Available())
	require.Zero(t, s.Position()-s.Logical())

	require.NoError(t, write(s, []byte("EFGH")))
	require.NoError(t, s.Drain())
	require.Equal(t, "\x00\x00\x00\x00EFGH", string(f.Bytes()))
}

func TestCompletionErrors(t *testing.T) {
	s, f := newScheduler(t, Config{BufferSize: 4, MinBuffers: 2, MaxBuffers: 2})
	boom := errors.New("boom")

	require.NoError(t, write(s, []byte("ABCD")))
	f.FailNextCompletion(boom)
	require.ErrorIs(t, s.Drain(), boom)
	require.Equal(t, 2, s.Available(), "failed buffer is still recycled")

	require.NoError(t, write(s, []byte("EFGH")))
	f.ShortenNextCompletion(1)
	require.ErrorIs(t, s.Drain(), io.ErrShortWrite)
}

func TestSeekDrainsFirst(t *testing.T) {
	s, f := newScheduler(t, Config{BufferSize: 4, MinBuffers: 2, MaxBuffers: 2})

	require.NoError(t, write(s, []byte("ABCDEFGH")))
	require.Equal(t, 2, f.Pending())

	require.NoError(t, s.Seek(2))
	require.Zero(t, f.Pending())
	require.Equal(t, "ABCDEFGH", string(f.Bytes()))
	require.Equal(t, int64(2), s.Position())
	require.Equal(t, int64(8), s.Watermark())

	require.NoError(t, write(s, []byte("XY")))
	require.NoError(t, s.Drain())
	require.Equal(t, "ABXYEFGH", string(f.Bytes()))
	require.Equal(t, int64(8), s.Watermark())

	require.NoError(t, s.Seek(20))
	require.Equal(t, int64(20), s.Watermark())
}

func TestAlignedPartialFlush(t *testing.T) {
	s, f := newScheduler(t, Config{BufferSize: 6, MinBuffers: 2, MaxBuffers: 2, Align: 4})
	require.Equal(t, 8, s.Config().BufferSize, "rounded up to the alignment")

	require.NoError(t, write(s, []byte("ABCDEFGHIJ")))
	require.NoError(t, s.Drain())
	require.Equal(t, "ABCDEFGHIJ\x00\x00", string(f.Bytes()), "tail padded to a block")
	require.Equal(t, int64(10), s.Position())
	require.Equal(t, int64(10), s.Watermark())
	require.Equal(t, int64(8), s.Logical(), "partial block carried in the head buffer")

	require.NoError(t, write(s, []byte("KL")))
	require.NoError(t, s.Drain())
	require.Equal(t, "ABCDEFGHIJKL", string(f.Bytes()))
	require.Equal(t, int64(12), s.Position())
}

func TestAlignedFailedPartialStaysAligned(t *testing.T) {
	s, f := newScheduler(t, Config{BufferSize: 8, MinBuffers: 2, MaxBuffers: 2, Align: 4})
	boom := errors.New("boom")

	require.NoError(t, write(s, []byte("ABCDEF")))
	f.FailNextSubmit(boom)
	err := s.Drain()
	require.ErrorIs(t, err, boom)
	var we *WriteError
	require.ErrorAs(t, err, &we)
	require.Equal(t, int64(0), we.Off)

	require.Equal(t, int64(6), s.Position())
	require.Equal(t, int64(4), s.Logical(), "partial block carried after the failure")

	require.NoError(t, write(s, []byte("12345678")))
	require.Equal(t, []int64{4}, f.PendingOffsets())
	require.NoError(t, s.Drain())
	require.Equal(t, "\x00\x00\x00\x00EF12345678\x00\x00", string(f.Bytes()))
	require.Equal(t, int64(14), s.Position())
}

func TestAlignedSeekPreloadsBlock(t *testing.T) {
	s, f := newScheduler(t, Config{BufferSize: 4, MinBuffers: 1, MaxBuffers: 1, Align: 4})

	require.NoError(t, write(s, []byte("ABCDEFGH")))
	require.NoError(t, s.Drain())

	require.NoError(t, s.Seek(5))
	require.Equal(t, int64(5), s.Position())
	require.Equal(t, int64(4), s.Logical())

	require.NoError(t, write(s, []byte("XY")))
	require.NoError(t, s.Drain())
	require.Equal(t, "ABCDEXYH", string(f.Bytes()))
	require.Equal(t, int64(7), s.Position())
	require.Equal(t, int64(8), s.Watermark())
}

func TestReleaseFreesBuffers(t *testing.T) {
	var freed int
	f := memfile.New()
	s := New(f, Config{
		BufferSize: 4, MinBuffers: 2, MaxBuffers: 2,
		Free: func([]byte) { freed++ },
	})
	require.NoError(t, write(s, []byte("ABCD")))
	s.Release()

	require.Equal(t, 2, freed)
	require.Zero(t, f.Ops())
	require.Zero(t, f.Pending())
	require.Zero(t, s.Buffers())
}
