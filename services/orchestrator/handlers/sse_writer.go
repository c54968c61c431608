// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes Server-Sent Events to an HTTP response.
//
// # Description
//
// SSEWriter hides the SSE wire format (event: type\ndata: json\n\n) from the
// streaming handler. Each event is assigned:
//   - Id: UUID v4
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 of the event content
//   - PrevHash: Hash of the previous event
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The keep-alive ticker
// and the token callback write from different goroutines.
//
// # Limitations
//
//   - Requires an http.Flusher-compatible ResponseWriter
//   - Response headers must be set before the first write
type SSEWriter interface {
	// WriteEvent fills in the event metadata, writes it and flushes.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteToken writes one content token.
	WriteToken(content string) error

	// WriteError writes an error event. The stream should be closed after it.
	WriteError(message, errorType string) error

	// WriteDone writes the terminal event carrying the conversation id.
	WriteDone(conversationID string) error

	// WriteKeepAlive writes an SSE comment so proxies keep the connection open.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// NewSSEWriter wraps w.
//
// # Outputs
//
//   - SSEWriter: Ready to write events.
//   - error: Non-nil if w does not implement http.Flusher.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash
	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func computeEventHash(event datatypes.StreamEvent) string {
	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Error,
		event.ConversationId,
	)
	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

func (w *sseWriter) WriteToken(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventToken, Content: content})
}

func (w *sseWriter) WriteError(message, errorType string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventError, Error: message, ErrorType: errorType})
}

func (w *sseWriter) WriteDone(conversationID string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventDone, ConversationId: conversationID})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders sets the headers a streaming response needs. Call it before
// the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
