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
	"context"
	"errors"
	"log/slog"

	"github.com/cloudwego/filex/aio"
	"github.com/cloudwego/filex/internal/gopool"
)

// openBackend opens path for the configured Mode and Engine.
func openBackend(path string, o *Options) (aio.Backend, error) {
	f, err := aio.OpenFile(path, o.Mode == ModeAsyncDirect, o.Perm)
	if err != nil {
		return nil, err
	}
	if o.Mode == ModeSync {
		return aio.OpenInline(f), nil
	}
	switch o.Engine {
	case EngineThreads:
		popt := gopool.DefaultOption()
		popt.MaxIdleWorkers = o.MaxBuffers
		popt.Logger = o.Logger
		return aio.OpenThreads(f, gopool.NewGoPool("filex", popt)), nil
	case EngineInline:
		return aio.OpenInline(f), nil
	}
	b, err := aio.OpenURing(f, uint32(o.MaxBuffers))
	if err == nil {
		return b, nil
	}
	if o.Engine == EngineAuto && errors.Is(err, aio.ErrUnsupported) {
		o.Logger.Debug("io_uring unavailable, writing inline", "path", path, "error", err)
		return aio.OpenInline(f), nil
	}
	f.Close()
	return nil, err
}

// discardHandler drops every record.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }
