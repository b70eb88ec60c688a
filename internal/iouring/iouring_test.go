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
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// skipIfUnsupported skips the test if io_uring can't be set up,
// e.g. old kernels or sandboxes that filter the syscall.
func skipIfUnsupported(t *testing.T) {
	t.Helper()
	r, err := New(2)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	r.Close()
}

func TestABISizes(t *testing.T) {
	require.Equal(t, uintptr(64), unsafe.Sizeof(SQE{}))
	require.Equal(t, uintptr(16), unsafe.Sizeof(CQE{}))
	require.Equal(t, uintptr(40), unsafe.Sizeof(SQRingOffsets{}))
	require.Equal(t, uintptr(40), unsafe.Sizeof(CQRingOffsets{}))
	require.Equal(t, uintptr(120), unsafe.Sizeof(Params{}))
}

func TestNopRoundTrip(t *testing.T) {
	skipIfUnsupported(t)

	r, err := New(4)
	require.NoError(t, err)
	defer r.Close()
	require.GreaterOrEqual(t, r.Entries(), uint32(4))

	sqe := r.PeekSQE()
	require.NotNil(t, sqe)
	sqe.Opcode = IORING_OP_NOP
	sqe.UserData = 7
	r.AdvanceSQ()

	n, err := r.Submit()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	cqe, err := r.WaitCQE()
	require.NoError(t, err)
	require.Equal(t, uint64(7), cqe.UserData)
	require.Equal(t, int32(0), cqe.Res)

	_, ok := r.PopCQE()
	require.False(t, ok)
}

func TestWriteAtOffsets(t *testing.T) {
	skipIfUnsupported(t)

	r, err := New(8)
	require.NoError(t, err)
	defer r.Close()

	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()

	// submitted out of order, each at its own offset
	parts := []struct {
		off  int64
		data []byte
	}{
		{6, []byte("world")},
		{0, []byte("hello ")},
	}
	for i, p := range parts {
		sqe := r.PeekSQE()
		require.NotNil(t, sqe)
		PrepareWrite(sqe, int32(f.Fd()), p.data, p.off, uint64(i+1))
		r.AdvanceSQ()
	}
	n, err := r.Submit()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for i := 0; i < 2; i++ {
		cqe, err := r.WaitCQE()
		require.NoError(t, err)
		require.Equal(t, int32(len(parts[cqe.UserData-1].data)), cqe.Res)
	}

	got, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))

	buf := make([]byte, 5)
	sqe := r.PeekSQE()
	PrepareRead(sqe, int32(f.Fd()), buf, 6, 9)
	r.AdvanceSQ()
	_, err = r.Submit()
	require.NoError(t, err)
	cqe, err := r.WaitCQE()
	require.NoError(t, err)
	require.Equal(t, int32(5), cqe.Res)
	require.Equal(t, "world", string(buf))
}

func TestPeekSQEFull(t *testing.T) {
	skipIfUnsupported(t)

	r, err := New(2)
	require.NoError(t, err)
	defer r.Close()

	for i := uint32(0); i < r.Entries(); i++ {
		require.NotNil(t, r.PeekSQE())
		r.AdvanceSQ()
	}
	require.Nil(t, r.PeekSQE())
	require.Equal(t, r.Entries(), r.PendingSQEs())

	n, err := r.Submit()
	require.NoError(t, err)
	require.Equal(t, int(r.Entries()), n)
	for i := uint32(0); i < r.Entries(); i++ {
		_, err := r.WaitCQE()
		require.NoError(t, err)
	}
	require.NotNil(t, r.PeekSQE())
}
