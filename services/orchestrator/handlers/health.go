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
	"net/http"

	"github.com/AleutianAI/askai/services/orchestrator/memory"
	"github.com/gin-gonic/gin"
)

// DocumentCounter reports the size of the vector index.
type DocumentCounter interface {
	Count(ctx context.Context) (int, error)
}

// HandleHealth reports liveness, the memory backend in use and, when an
// index is given, its document count. An index error still answers 200,
// with status "degraded".
func HandleHealth(store memory.Store, index DocumentCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if store != nil {
			body["memory"] = store.Kind().String()
		}
		if index != nil {
			n, err := index.Count(c.Request.Context())
			if err != nil {
				body["status"] = "degraded"
				body["index_error"] = err.Error()
			} else {
				body["documents"] = n
			}
		}
		c.JSON(http.StatusOK, body)
	}
}
