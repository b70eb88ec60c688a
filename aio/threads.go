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
	"os"

	"github.com/cloudwego/filex/internal/gopool"
)

// OpenThreads returns a Backend which runs each write on a pool goroutine.
// pool may be nil to use the shared default pool.
func OpenThreads(f *os.File, pool *gopool.GoPool) Backend {
	if pool == nil {
		pool = gopool.Default()
	}
	return &threads{file: file{f}, pool: pool}
}

type threads struct {
	file
	pool *gopool.GoPool
}

func (b *threads) NewOp() Op {
	return &threadOp{b: b, done: make(chan struct{}, 1), finished: true}
}

type threadOp struct {
	b        *threads
	done     chan struct{}
	finished bool
	n        int
	err      error
}

func (op *threadOp) Submit(p []byte, off int64) error {
	op.Wait() // never two writes on one op
	op.finished = false
	f := op.b.File
	op.b.pool.Go(func() {
		op.n, op.err = f.WriteAt(p, off)
		op.done <- struct{}{}
	})
	return nil
}

func (op *threadOp) Done() bool {
	if op.finished {
		return true
	}
	select {
	case <-op.done:
		op.finished = true
	default:
	}
	return op.finished
}

func (op *threadOp) Wait() (int, error) {
	if !op.finished {
		<-op.done
		op.finished = true
	}
	return op.n, op.err
}

func (op *threadOp) Release() {
	op.Wait()
}
