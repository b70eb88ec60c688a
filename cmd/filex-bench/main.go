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

// filex-bench writes a generated file through a filex.Writer, reports the
// throughput and reads the file back to verify it.
//
// Settings come from an optional YAML file (--config) and are overridden by
// flags given on the command line:
//
//	file: /data/bench.bin
//	size: 1073741824
//	chunk: 1000
//	writer:
//	  mode: direct
//	  engine: uring
//	  buffer_size: 1048576
//	  max_buffers: 32
package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/cloudwego/filex"
	"github.com/cloudwego/filex/metrics"
)

type config struct {
	File        string         `yaml:"file"`
	Size        int64          `yaml:"size"`
	Chunk       int            `yaml:"chunk"`
	Verify      bool           `yaml:"verify"`
	Keep        bool           `yaml:"keep"`
	MetricsAddr string         `yaml:"metrics_addr"`
	LogLevel    slog.Level     `yaml:"log_level"`
	Writer      *filex.Options `yaml:"writer"`
}

func defaultConfig() *config {
	return &config{
		File:   "filex-bench.bin",
		Size:   256 << 20,
		Chunk:  4000,
		Verify: true,
		Writer: filex.DefaultOptions(),
	}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	cfg.Writer.Logger = logger

	var snap metrics.Snapshot
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(snap.Load, metrics.DefaultConfig()))
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		defer srv.Close()
	}

	if !cfg.Keep {
		defer os.Remove(cfg.File)
	}
	elapsed, st, err := write(cfg, &snap)
	if err != nil {
		return err
	}
	logger.Info("write finished",
		"file", cfg.File,
		"mode", cfg.Writer.Mode,
		"engine", cfg.Writer.Engine,
		"bytes", cfg.Size,
		"elapsed", elapsed,
		"mib_per_sec", float64(cfg.Size)/(1<<20)/elapsed.Seconds(),
		"submits", st.Submits,
		"inline_completions", st.InlineCompletions,
		"blocking_waits", st.BlockingWaits,
		"dropped", st.Dropped,
	)
	if !cfg.Verify {
		return nil
	}
	if err := verify(cfg.File, cfg.Size); err != nil {
		return err
	}
	logger.Info("verified", "file", cfg.File)
	return nil
}

func parseConfig(args []string) (*config, error) {
	var (
		configPath string
		mode       string
		engine     string
		logLevel   string
	)
	cfg := defaultConfig()
	o := cfg.Writer

	fs := pflag.NewFlagSet("filex-bench", pflag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "YAML file with settings")
	fs.StringVarP(&cfg.File, "file", "f", cfg.File, "file to write")
	fs.Int64VarP(&cfg.Size, "size", "s", cfg.Size, "bytes to write")
	fs.IntVarP(&cfg.Chunk, "chunk", "c", cfg.Chunk, "bytes per Write call")
	fs.BoolVar(&cfg.Verify, "verify", cfg.Verify, "read the file back and compare")
	fs.BoolVar(&cfg.Keep, "keep", cfg.Keep, "keep the file afterwards")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	fs.StringVarP(&mode, "mode", "m", o.Mode.String(), "sync, async or direct")
	fs.StringVarP(&engine, "engine", "e", o.Engine.String(), "auto, uring, threads or inline")
	fs.IntVar(&o.BufferSize, "buffer-size", o.BufferSize, "bytes per buffer")
	fs.IntVar(&o.MinBuffers, "min-buffers", o.MinBuffers, "buffers allocated up front")
	fs.IntVar(&o.MaxBuffers, "max-buffers", o.MaxBuffers, "maximum buffers, and writes in flight")
	fs.IntVar(&o.BlockSize, "block-size", o.BlockSize, "direct I/O alignment, 0 for the platform default")
	fs.BoolVar(&o.DropOnError, "drop-on-error", o.DropOnError, "drop failed chunks instead of stopping")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	if configPath != "" {
		// flags on the command line win over the file
		flagged := *cfg
		flaggedOpts := *o
		if err := loadConfig(configPath, cfg); err != nil {
			return nil, err
		}
		fs.Visit(func(f *pflag.Flag) {
			override(f.Name, cfg, &flagged, &flaggedOpts)
		})
	}

	var err error
	if fs.Changed("mode") || configPath == "" {
		if cfg.Writer.Mode, err = filex.ParseMode(mode); err != nil {
			return nil, err
		}
	}
	if fs.Changed("engine") || configPath == "" {
		if cfg.Writer.Engine, err = filex.ParseEngine(engine); err != nil {
			return nil, err
		}
	}
	if fs.Changed("log-level") || configPath == "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
			return nil, err
		}
	}
	if cfg.Size < 0 || cfg.Chunk <= 0 {
		return nil, fmt.Errorf("size must be >= 0 and chunk > 0")
	}
	return cfg, nil
}

func loadConfig(path string, cfg *config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Writer == nil {
		cfg.Writer = filex.DefaultOptions()
	}
	return nil
}

func override(name string, cfg, flagged *config, o *filex.Options) {
	switch name {
	case "file":
		cfg.File = flagged.File
	case "size":
		cfg.Size = flagged.Size
	case "chunk":
		cfg.Chunk = flagged.Chunk
	case "verify":
		cfg.Verify = flagged.Verify
	case "keep":
		cfg.Keep = flagged.Keep
	case "metrics-addr":
		cfg.MetricsAddr = flagged.MetricsAddr
	case "buffer-size":
		cfg.Writer.BufferSize = o.BufferSize
	case "min-buffers":
		cfg.Writer.MinBuffers = o.MinBuffers
	case "max-buffers":
		cfg.Writer.MaxBuffers = o.MaxBuffers
	case "block-size":
		cfg.Writer.BlockSize = o.BlockSize
	case "drop-on-error":
		cfg.Writer.DropOnError = o.DropOnError
	}
}

// fill writes the content expected at off into p.
func fill(p []byte, off int64) {
	for i := range p {
		x := off + int64(i)
		p[i] = byte(x ^ x>>8 ^ x>>16)
	}
}

func write(cfg *config, snap *metrics.Snapshot) (time.Duration, filex.Stats, error) {
	w, err := filex.Create(cfg.File, cfg.Writer)
	if err != nil {
		return 0, filex.Stats{}, err
	}
	chunk := make([]byte, cfg.Chunk)
	start := time.Now()
	for off := int64(0); off < cfg.Size; off += int64(len(chunk)) {
		if rest := cfg.Size - off; rest < int64(len(chunk)) {
			chunk = chunk[:rest]
		}
		fill(chunk, off)
		if _, err := w.Write(chunk); err != nil {
			w.Close()
			return 0, w.Stats(), fmt.Errorf("write at %d: %w", off, err)
		}
		snap.Store(w.Stats())
	}
	if err := w.Close(); err != nil {
		return 0, w.Stats(), err
	}
	st := w.Stats()
	snap.Store(st)
	return time.Since(start), st, nil
}

func verify(path string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() != size {
		return fmt.Errorf("%s: size %d, want %d", path, fi.Size(), size)
	}
	r := bufio.NewReaderSize(f, 1<<20)
	got := make([]byte, 64<<10)
	want := make([]byte, len(got))
	for off := int64(0); off < size; {
		n, err := io.ReadFull(r, got[:min(int64(len(got)), size-off)])
		if err != nil {
			return fmt.Errorf("%s: read at %d: %w", path, off, err)
		}
		fill(want[:n], off)
		if i := mismatch(got[:n], want[:n]); i >= 0 {
			return fmt.Errorf("%s: content differs at offset %d", path, off+int64(i))
		}
		off += int64(n)
	}
	return nil
}

func mismatch(a, b []byte) int {
	if bytes.Equal(a, b) {
		return -1
	}
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return len(a)
}
