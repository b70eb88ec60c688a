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

// Stats is a snapshot of a Writer's counters and gauges.
type Stats struct {
	Writes uint64 // calls to Write
	Bytes  int64  // bytes accepted by Write

	Submits           uint64
	InlineCompletions uint64
	Reclaims          uint64
	BlockingWaits     uint64 // Write blocked on a full pool
	Drains            uint64
	Dropped           uint64 // chunks lost under DropOnError
	Errors            uint64

	Buffers   int
	Available int
	Submitted int
	Position  int64
	Watermark int64
}

// Stats returns the Writer's counters. Gauges are zero once it's closed.
func (w *Writer) Stats() Stats {
	if w == nil {
		return Stats{}
	}
	st := Stats{
		Writes:  w.writes,
		Bytes:   w.bytes,
		Dropped: w.dropped,
		Errors:  w.failures,
	}
	if s := w.sched; s != nil {
		ss := s.Stats()
		st.Submits = ss.Submits
		st.InlineCompletions = ss.InlineCompletions
		st.Reclaims = ss.Reclaims
		st.BlockingWaits = ss.BlockingWaits
		st.Drains = ss.Drains
	}
	if !w.IsOpen() {
		return st
	}
	st.Position = w.Position()
	if s := w.sched; s != nil {
		st.Buffers = s.Buffers()
		st.Available = s.Available()
		st.Submitted = s.Submitted()
		st.Watermark = s.Watermark()
	} else {
		st.Watermark = w.Size()
	}
	return st
}
