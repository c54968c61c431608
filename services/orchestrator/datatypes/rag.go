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

import "time"

// Document is one retrievable chunk of an ingested file.
//
// Chunks are written once during ingestion and never updated. Score is
// only set on retrieval results and holds the similarity to the query.
type Document struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Source     string    `json:"source_file"`
	IngestedAt time.Time `json:"ingestion_timestamp"`
	Score      float64   `json:"score,omitempty"`
}

// DocumentProperties is the property map stored on each vector object.
type DocumentProperties struct {
	Content    string `json:"content"`
	SourceFile string `json:"source_file"`
	IngestedAt int64  `json:"ingestion_timestamp"`
}

func (p *DocumentProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"content":             p.Content,
		"source_file":         p.SourceFile,
		"ingestion_timestamp": p.IngestedAt,
	}
}

// Contents returns the text of each document in order.
func Contents(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Content
	}
	return out
}
