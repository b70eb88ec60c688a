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


package aio

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestURingFailureRefusesWrites(t *testing.T) {
	f := createFile(t)
	b, err := OpenURing(f, 4)
	if err != nil {
		f.Close()
		t.Skipf("io_uring unavailable: %v", err)
	}
	defer b.Close()
	ub := b.(*uring)

	inflight, next := b.NewOp(), b.NewOp()
	require.NoError(t, inflight.Submit([]byte("abcd"), 0))

	ub.fail(syscall.EBADF)

	// completions are no longer observed, the pending write is abandoned
	_, err = inflight.Wait()
	require.ErrorIs(t, err, ErrBackendFailed)
	require.ErrorIs(t, err, syscall.EBADF)
	require.True(t, inflight.Done())

	err = next.Submit([]byte("efgh"), 4)
	require.ErrorIs(t, err, ErrBackendFailed)
	require.True(t, next.Done())

	// the first failure is kept
	ub.fail(syscall.EIO)
	require.NotErrorIs(t, next.Submit([]byte("x"), 0), syscall.EIO)
}
