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

import "unsafe"

// io_uring opcodes used by this package
const (
	IORING_OP_NOP   = 0
	IORING_OP_READ  = 22 // Linux 5.6+
	IORING_OP_WRITE = 23 // Linux 5.6+
)

const (
	IORING_FEAT_SINGLE_MMAP = 1 << 0
	IORING_ENTER_GETEVENTS  = 1 << 0

	// mmap offsets of the rings
	IORING_OFF_SQ_RING = 0
	IORING_OFF_SQES    = 0x10000000
)

// SQE is a submission queue entry.
// Size must be exactly 64 bytes for kernel ABI compatibility
type SQE struct {
	Opcode      uint8
	Flags       uint8
	IoPrio      uint16
	Fd          int32
	Off         uint64 // file offset
	Addr        uint64 // buffer address
	Len         uint32 // buffer length
	OpcodeFlags uint32
	UserData    uint64 // returned in the CQE
	BufIndex    uint16
	Personality uint16
	SpliceFdIn  int32
	_           [2]uint64
}

// CQE is a completion queue entry.
// Size must be exactly 16 bytes for kernel ABI compatibility
type CQE struct {
	UserData uint64
	Res      int32 // bytes transferred or -errno
	Flags    uint32
}

// Params is struct io_uring_params, passed to io_uring_setup.
type Params struct {
	SQEntries    uint32
	CQEntries    uint32
	Flags        uint32
	SQThreadCPU  uint32
	SQThreadIdle uint32
	Features     uint32
	WQFd         uint32
	Resv         [3]uint32
	SQOff        SQRingOffsets
	CQOff        CQRingOffsets
}

// SQRingOffsets is struct io_sqring_offsets.
type SQRingOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	UserAddr    uint64
}

// CQRingOffsets is struct io_cqring_offsets.
type CQRingOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	CQEs        uint32
	Flags       uint32
	Resv1       uint32
	UserAddr    uint64
}

// PrepareWrite fills sqe with a write of buf at file offset off.
// buf must stay alive and unmodified until the matching CQE is consumed.
func PrepareWrite(sqe *SQE, fd int32, buf []byte, off int64, userData uint64) {
	sqe.Opcode = IORING_OP_WRITE
	sqe.Fd = fd
	sqe.Off = uint64(off)
	sqe.Len = uint32(len(buf))
	sqe.Addr = 0
	if len(buf) > 0 {
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	}
	sqe.UserData = userData
}

// PrepareRead fills sqe with a read into buf from file offset off.
func PrepareRead(sqe *SQE, fd int32, buf []byte, off int64, userData uint64) {
	PrepareWrite(sqe, fd, buf, off, userData)
	sqe.Opcode = IORING_OP_READ
}
