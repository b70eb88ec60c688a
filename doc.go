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

// Package filex provides a sequential file writer that overlaps disk I/O
// with the caller.
//
// Bytes written to a Writer are copied into one of a fixed pool of buffers.
// A full buffer is submitted as an asynchronous write at the current logical
// position and the writer moves on to the next buffer; buffers are reused
// once their write has completed. Write blocks only when every buffer is in
// flight. SetPosition and Close first wait for all outstanding writes.
//
//	w, err := filex.Create("out.bin", nil)
//	if err != nil {
//	    // handle error
//	}
//	defer w.Close()
//	w.Write(header)
//	w.Write(body)
//
// A Writer is not safe for concurrent use.
package filex
