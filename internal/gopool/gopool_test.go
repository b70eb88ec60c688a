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

package gopool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoPool(t *testing.T) {
	p := NewGoPool("test", nil)

	var wg sync.WaitGroup
	var n int32
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		p.Go(func() {
			defer wg.Done()
			atomic.AddInt32(&n, 1)
		})
	}
	wg.Wait()
	require.Equal(t, int32(1000), atomic.LoadInt32(&n))
}

func TestPanicHandler(t *testing.T) {
	p := NewGoPool("test", nil)

	done := make(chan interface{}, 1)
	p.SetPanicHandler(func(ctx context.Context, r interface{}) {
		done <- r
	})
	p.Go(func() { panic("boom") })

	select {
	case r := <-done:
		require.Equal(t, "boom", r)
	case <-time.After(5 * time.Second):
		t.Fatal("panic handler not called")
	}
}

func TestIdleWorkersExit(t *testing.T) {
	o := DefaultOption()
	o.WorkerMaxIdle = 10 * time.Millisecond
	p := NewGoPool("test", o)

	var wg sync.WaitGroup
	wg.Add(1)
	p.Go(wg.Done)
	wg.Wait()

	require.Eventually(t, func() bool {
		return p.CurrentWorkers() == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func TestDefaultPool(t *testing.T) {
	done := make(chan struct{})
	Go(func() { close(done) })
	<-done
	require.NotNil(t, Default())
}
