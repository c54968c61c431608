// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// Stream event types written on the search stream.
const (
	StreamEventToken = "token"
	StreamEventError = "error"
	StreamEventDone  = "done"
)

// StreamEvent is one Server-Sent Event on the search stream.
//
// Id, CreatedAt, Hash and PrevHash are filled in by the writer. Hash covers
// the event content and PrevHash links it to the event before, so a client
// can detect dropped or reordered events.
type StreamEvent struct {
	Id             string `json:"id"`
	Type           string `json:"type"`
	CreatedAt      int64  `json:"createdAt"`
	Content        string `json:"content,omitempty"`
	Error          string `json:"error,omitempty"`
	ErrorType      string `json:"errorType,omitempty"`
	ConversationId string `json:"conversationId,omitempty"`
	Hash           string `json:"hash"`
	PrevHash       string `json:"prevHash,omitempty"`
}
