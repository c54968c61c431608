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
	"log/slog"
	"net/http"

	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
	"github.com/AleutianAI/askai/services/orchestrator/memory"
	"github.com/gin-gonic/gin"
)

// ListConversations returns the ids of every conversation with stored
// messages.
func ListConversations(store memory.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids, err := store.ConversationIDs(c.Request.Context())
		if err != nil {
			slog.Error("failed to list conversations", "backend", store.Kind(), "error", err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"backend": store.Kind().String(), "conversations": ids})
	}
}

// GetConversationHistory returns the remembered window for one
// conversation, oldest first. An unknown id answers an empty list.
func GetConversationHistory(store memory.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("conversationId")
		history, err := store.Get(c.Request.Context(), id)
		if err != nil {
			slog.Error("failed to load conversation", "conversationId", id, "error", err)
			writeError(c, err)
			return
		}
		if history == nil {
			history = []datatypes.Message{}
		}
		c.JSON(http.StatusOK, gin.H{"conversationId": id, "messages": history})
	}
}
