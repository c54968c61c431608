// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettleDelay is how long a file must be quiet before it is
// re-ingested. Editors often emit several writes per save.
const DefaultSettleDelay = 500 * time.Millisecond

// Watch re-ingests supported files under paths whenever they are created or
// written. Directories are watched non-recursively; a file path watches its
// parent directory and only reacts to that file. Watch blocks until ctx is
// cancelled and returns nil in that case.
func (in *Ingester) Watch(ctx context.Context, paths []string, settle time.Duration) error {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range paths {
		clean := filepath.Clean(p)
		info, err := os.Stat(clean)
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		dir := clean
		if !info.IsDir() {
			files[clean] = true
			dir = filepath.Dir(clean)
		} else {
			dirs[clean] = true
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	wanted := func(name string) bool {
		if files[name] {
			return true
		}
		return dirs[filepath.Dir(name)] && Supported(name)
	}

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(settle / 2)
	defer ticker.Stop()

	slog.Info("Watching documents for changes", "paths", paths)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !wanted(event.Name) {
				continue
			}
			pending[event.Name] = time.Now()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("File watcher error", "error", err)
		case now := <-ticker.C:
			for name, last := range pending {
				if now.Sub(last) < settle {
					continue
				}
				delete(pending, name)
				n, err := in.IngestFile(ctx, name)
				if err != nil {
					slog.Error("Re-ingestion failed", "source", name, "error", err)
					continue
				}
				slog.Info("Re-ingested changed document", "source", name, "chunks", n)
			}
		}
	}
}
