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

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Mode selects how a Writer talks to the file.
type Mode int

const (
	// ModeSync writes straight through to the file cursor, without buffering.
	ModeSync Mode = iota
	// ModeAsync buffers writes and submits them asynchronously.
	ModeAsync
	// ModeAsyncDirect is ModeAsync on a file opened for direct I/O, bypassing
	// the page cache. Writes are block aligned.
	ModeAsyncDirect
)

var modeNames = []string{"sync", "async", "direct"}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMode parses "sync", "async" or "direct".
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("filex: unknown mode %q", s)
}

// Engine selects the asynchronous write backend.
type Engine int

const (
	// EngineAuto uses io_uring where available and inline writes otherwise.
	EngineAuto Engine = iota
	// EngineURing requires io_uring; Create fails without it.
	EngineURing
	// EngineThreads runs writes on a goroutine pool.
	EngineThreads
	// EngineInline completes every write during submission.
	EngineInline
)

var engineNames = []string{"auto", "uring", "threads", "inline"}

func (e Engine) String() string {
	if e >= 0 && int(e) < len(engineNames) {
		return engineNames[e]
	}
	return fmt.Sprintf("Engine(%d)", int(e))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Engine) UnmarshalText(text []byte) error {
	v, err := ParseEngine(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// ParseEngine parses "auto", "uring", "threads" or "inline".
func ParseEngine(s string) (Engine, error) {
	for i, name := range engineNames {
		if strings.EqualFold(s, name) {
			return Engine(i), nil
		}
	}
	return 0, fmt.Errorf("filex: unknown engine %q", s)
}

// Options configures a Writer. It's read once, at construction.
type Options struct {
	Mode   Mode   `yaml:"mode"`
	Engine Engine `yaml:"engine"`

	// BufferSize is the capacity of each pooled buffer.
	BufferSize int `yaml:"buffer_size"`
	// MinBuffers are allocated up front.
	MinBuffers int `yaml:"min_buffers"`
	// MaxBuffers bounds the pool, and so the number of writes in flight.
	// It's raised to MinBuffers if smaller.
	MaxBuffers int `yaml:"max_buffers"`

	// BlockSize is the alignment used by ModeAsyncDirect.
	// 0 means directio.BlockSize.
	BlockSize int `yaml:"block_size"`

	// DropOnError keeps writing after a failed write, losing that chunk.
	// By default the first failure is returned and the Writer stops accepting data.
	// A failure of the backend itself (aio.ErrBackendFailed) always stops it.
	DropOnError bool `yaml:"drop_on_error"`

	// Perm is used when the file is created.
	Perm os.FileMode `yaml:"perm"`

	// Logger receives fallback and dropped-write events. nil discards them.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultOptions returns a new Options with default values.
func DefaultOptions() *Options {
	return &Options{
		Mode:       ModeAsync,
		Engine:     EngineAuto,
		BufferSize: 8192,
		MinBuffers: 16,
		MaxBuffers: 16,
		Perm:       0o644,
	}
}

func (o *Options) normalize() {
	def := DefaultOptions()
	if o.BufferSize <= 0 {
		o.BufferSize = def.BufferSize
	}
	if o.MinBuffers < 0 {
		o.MinBuffers = 0
	}
	if o.MaxBuffers < o.MinBuffers {
		o.MaxBuffers = o.MinBuffers
	}
	if o.MaxBuffers < 1 {
		o.MaxBuffers = 1
	}
	if o.Perm == 0 {
		o.Perm = def.Perm
	}
	if o.Logger == nil {
		o.Logger = slog.New(discardHandler{})
	}
}

func (o *Options) validate() error {
	if o.Mode < ModeSync || o.Mode > ModeAsyncDirect {
		return fmt.Errorf("filex: invalid mode %v", o.Mode)
	}
	if o.Engine < EngineAuto || o.Engine > EngineInline {
		return fmt.Errorf("filex: invalid engine %v", o.Engine)
	}
	if b := o.BlockSize; b < 0 || b&(b-1) != 0 {
		return fmt.Errorf("filex: block size %d is not a power of two", b)
	}
	return nil
}
