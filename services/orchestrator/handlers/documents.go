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
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// DocumentIngester chunks, embeds and indexes one text document.
// *retrieval.Ingester implements it.
type DocumentIngester interface {
	IngestText(ctx context.Context, source, content string) (int, error)
}

type IngestDocumentRequest struct {
	Content string `json:"content" binding:"required"`
	Source  string `json:"source" binding:"required"`
}

// HandleCreateDocument ingests a document posted by the CLI or another
// client. Posting a source again replaces the chunks stored for it.
func HandleCreateDocument(ingester DocumentIngester) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleCreateDocument")
		defer span.End()

		var req IngestDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			writeBindError(c, errEmptyContent)
			return
		}

		chunks, err := ingester.IngestText(ctx, req.Source, req.Content)
		if err != nil {
			span.RecordError(err)
			writeError(c, err)
			return
		}
		slog.Info("Successfully processed document via API", "source", req.Source, "chunks_processed", chunks)
		c.JSON(http.StatusCreated, gin.H{
			"status":           "success",
			"source":           req.Source,
			"chunks_processed": chunks,
		})
	}
}
