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

	"github.com/ncw/directio"
)

// OpenFile creates or truncates name for writing.
// With direct set the file bypasses the page cache, which requires writes and
// reads to use aligned buffers, lengths and offsets (see directio.BlockSize).
func OpenFile(name string, direct bool, perm os.FileMode) (*os.File, error) {
	flag := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	if direct {
		return directio.OpenFile(name, flag, perm)
	}
	return os.OpenFile(name, flag, perm)
}

// file implements the synchronous part of Backend over *os.File.
type file struct {
	*os.File
}

func (f file) Size() (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
