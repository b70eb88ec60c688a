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

// Package iouring provides a minimal interface to Linux io_uring for
// positioned file writes. A Ring is owned by a single goroutine: entries are
// prepared with PeekSQE/AdvanceSQ, pushed to the kernel with Submit, and
// completions are consumed with PopCQE (non-blocking) or WaitCQE (blocking).
//
// Requires Linux kernel 5.6+ (IORING_OP_WRITE and IORING_FEAT_SINGLE_MMAP).
// On other platforms the package is empty.
package iouring
