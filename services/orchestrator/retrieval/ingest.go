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
	"crypto/sha256"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/askai/services/llm"
	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
	"github.com/AleutianAI/askai/services/policy_engine"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/sync/errgroup"
)

var (
	CHUNK_SIZE        = 1000
	CHUNK_OVERLAP     = int(float64(CHUNK_SIZE) * 0.10) // 10% of CHUNK_SIZE
	defaultSeparators = []string{"\n\n", "\n", " ", ""}
	pythonSeparators  = []string{"\nclass ", "\ndef ", "\n\t", "\n", " "}
	cStyleSeparators  = []string{
		"\nfunction ", "\nclass ", "\ninterface ",
		"\npublic ", "\nprivate ", "\nprotected ",
		"\nfunc", "\ntype",
		"\n\n", "\n", " ", "",
	}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
)

var supportedExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true, ".csv": true, ".json": true,
	".py": true, ".js": true, ".ts": true, ".java": true, ".c": true, ".cpp": true,
	".h": true, ".hpp": true, ".rs": true, ".go": true,
}

// Supported reports whether a file's extension is one the ingester reads.
func Supported(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

const (
	defaultBatchSize   = 32
	defaultConcurrency = 4
)

// Ingester splits documents into chunks, embeds them and stores them in a
// VectorIndex.
type Ingester struct {
	embedder    llm.Embedder
	index       VectorIndex
	batchSize   int
	concurrency int
	now         func() time.Time
	policy      ContentPolicy
}

// ContentPolicy vets raw document content before it is split. A non-nil
// error rejects the document.
type ContentPolicy interface {
	Check(source, content string) error
}

// IngesterOption customises an Ingester.
type IngesterOption func(*Ingester)

// WithBatchSize sets how many chunks go into one embedding request.
func WithBatchSize(n int) IngesterOption {
	return func(in *Ingester) {
		if n > 0 {
			in.batchSize = n
		}
	}
}

// WithConcurrency bounds the number of embedding requests in flight.
func WithConcurrency(n int) IngesterOption {
	return func(in *Ingester) {
		if n > 0 {
			in.concurrency = n
		}
	}
}

// WithPolicy rejects documents the policy refuses. Nil disables checks.
func WithPolicy(p ContentPolicy) IngesterOption {
	return func(in *Ingester) { in.policy = p }
}

// WithClock overrides the ingestion timestamp source.
func WithClock(now func() time.Time) IngesterOption {
	return func(in *Ingester) { in.now = now }
}

func NewIngester(embedder llm.Embedder, index VectorIndex, opts ...IngesterOption) *Ingester {
	in := &Ingester{
		embedder:    embedder,
		index:       index,
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// IngestText splits content, embeds the chunks and adds them to the index.
//
// # Description
//
// Chunks are embedded in batches of batchSize with at most concurrency
// requests in flight. Vectors are reassembled in chunk order before a
// single Add, so chunks of one source are indexed in document order.
// Chunks already indexed under source are deleted once the new chunks are
// embedded, so an edited file leaves no stale passages behind. A failed
// split or embedding keeps the previous chunks.
//
// # Outputs
//
//   - int: Number of chunks the index stored.
//   - error: Non-nil if the policy rejected the content or splitting,
//     embedding or storing failed.
func (in *Ingester) IngestText(ctx context.Context, source, content string) (int, error) {
	if in.policy != nil {
		if err := in.policy.Check(source, content); err != nil {
			return 0, err
		}
	}
	chunks, err := splitterFor(source).SplitText(content)
	if err != nil {
		return 0, fmt.Errorf("failed to split %s: %w", source, err)
	}
	if len(chunks) == 0 {
		slog.Warn("No chunks produced after splitting", "source", source)
		return 0, in.replaceSource(ctx, source)
	}
	slog.Info("Split document into chunks", "source", source, "chunk_count", len(chunks))

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.concurrency)
	for start := 0; start < len(chunks); start += in.batchSize {
		end := min(start+in.batchSize, len(chunks))
		g.Go(func() error {
			out, err := in.embedder.Embed(gctx, chunks[start:end])
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d of %s: %w", start, end-1, source, err)
			}
			if len(out) != end-start {
				return fmt.Errorf("embedder returned %d vectors for %d chunks", len(out), end-start)
			}
			copy(vectors[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	ingestedAt := in.now().UTC()
	docs := make([]datatypes.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = datatypes.Document{
			ID:         chunkID(source, chunk),
			Content:    chunk,
			Source:     source,
			IngestedAt: ingestedAt,
		}
	}

	if err := in.replaceSource(ctx, source); err != nil {
		return 0, err
	}
	stored, err := in.index.Add(ctx, docs, vectors)
	if err != nil {
		return 0, fmt.Errorf("failed to index %s: %w", source, err)
	}
	if stored < len(docs) {
		slog.Warn("Some chunks were not stored", "source", source, "stored", stored, "chunks", len(docs))
	}
	slog.Info("Successfully processed document", "source", source, "chunks_processed", stored)
	return stored, nil
}

// replaceSource drops the chunks a previous ingest stored for source.
func (in *Ingester) replaceSource(ctx context.Context, source string) error {
	removed, err := in.index.DeleteSource(ctx, source)
	if err != nil {
		return fmt.Errorf("failed to remove previous chunks of %s: %w", source, err)
	}
	if removed > 0 {
		slog.Info("Removed previous chunks", "source", source, "removed", removed)
	}
	return nil
}

// IngestFile reads one file and ingests it under its path. The path is
// the chunk source, so callers should pass it in a consistent form.
func (in *Ingester) IngestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return in.IngestText(ctx, filepath.ToSlash(path), string(data))
}

// IngestPaths ingests files and walks directories for supported files.
// Files rejected by the policy are skipped with a warning; any other
// failure stops the walk.
func (in *Ingester) IngestPaths(ctx context.Context, paths []string) (int, error) {
	total := 0
	for _, root := range paths {
		root = filepath.Clean(root)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || (path != root && !Supported(path)) {
				return nil
			}
			n, err := in.IngestFile(ctx, path)
			if policy_engine.IsPolicyViolation(err) {
				slog.Warn("Skipping document rejected by data policy", "path", path, "error", err)
				return nil
			}
			if err != nil {
				return err
			}
			total += n
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Bootstrap ingests paths only when the index holds no documents yet.
func (in *Ingester) Bootstrap(ctx context.Context, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	count, err := in.index.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count indexed documents: %w", err)
	}
	if count > 0 {
		slog.Info("Vector index already populated, skipping document load", "documents", count)
		return 0, nil
	}
	slog.Info("Vector index is empty, loading documents", "paths", paths)
	return in.IngestPaths(ctx, paths)
}

func chunkID(source, chunk string) string {
	hash := sha256.Sum256([]byte(source + "\x00" + chunk))
	id, _ := uuid.FromBytes(hash[:16])
	return id.String()
}

func splitterFor(filename string) textsplitter.TextSplitter {
	separators := defaultSeparators
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		separators = markdownSeparators
	case ".py":
		separators = pythonSeparators
	case ".js", ".ts", ".java", ".c", ".cpp", ".h", ".hpp", ".rs", ".go":
		separators = cStyleSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(CHUNK_SIZE),
		textsplitter.WithChunkOverlap(CHUNK_OVERLAP),
		textsplitter.WithSeparators(separators),
	)
}
