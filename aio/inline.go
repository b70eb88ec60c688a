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

import "os"

// OpenInline returns a Backend whose writes complete during Submit.
func OpenInline(f *os.File) Backend {
	return &inline{file: file{f}}
}

type inline struct {
	file
}

func (b *inline) NewOp() Op {
	return &inlineOp{f: b.File}
}

type inlineOp struct {
	f *os.File
	result
}

func (op *inlineOp) Submit(p []byte, off int64) error {
	n, err := op.f.WriteAt(p, off)
	op.result = result{n: n}
	return err
}
