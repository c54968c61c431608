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
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/askai/services/llm"
	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
	"github.com/AleutianAI/askai/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ConversationHeader carries the conversation id back to the client.
const ConversationHeader = "X-Conversation-Id"

// KeepAliveInterval is how often an idle search stream gets a ping comment.
var KeepAliveInterval = 15 * time.Second

// conversationID returns the userId query parameter, or a fresh uuid when
// the caller did not send one.
func conversationID(c *gin.Context) string {
	if id := strings.TrimSpace(c.Query("userId")); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleSearch answers with every non-direct tool available and the
// conversation memory for userId.
func HandleSearch(svc ChatAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleSearch")
		defer span.End()

		q, ok := bindQuestion(c)
		if !ok {
			return
		}
		id := conversationID(c)
		c.Header(ConversationHeader, id)

		answer, err := svc.Search(ctx, id, q.Question)
		if err != nil {
			span.RecordError(err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.Answer{Answer: answer})
	}
}

// HandleSearchStream streams the search answer as Server-Sent Events.
//
// # Description
//
// Validation failures are answered as a plain JSON 400 before any event is
// written. After that every outcome is an event: a token per model token,
// then either done or error. A client disconnect cancels the request
// context, which stops the upstream read; nothing is written to memory.
//
// # Inputs
//
//   - svc: Chat service.
//   - metrics: Stream gauges and disconnect counter. May be nil.
func HandleSearchStream(svc ChatAPI, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleSearchStream")
		defer span.End()

		q, ok := bindQuestion(c)
		if !ok {
			return
		}
		id := conversationID(c)

		c.Header(ConversationHeader, id)
		SetSSEHeaders(c.Writer)
		sse, err := NewSSEWriter(c.Writer)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusOK)

		metrics.StreamStarted()
		defer metrics.StreamEnded()

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			keepAlive(sse, stop)
		}()
		defer func() {
			close(stop)
			wg.Wait()
		}()

		_, err = svc.SearchStream(ctx, id, q.Question, func(token string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return sse.WriteToken(token)
		})
		if err != nil {
			span.RecordError(err)
			if llm.Canceled(err) || ctx.Err() != nil {
				metrics.RecordClientDisconnect()
				slog.Info("Search stream ended by client", "conversation_id", id)
				return
			}
			status, errorType, message := classifyError(err)
			slog.Error("Search stream failed", "conversation_id", id, "status", status, "error", err)
			_ = sse.WriteError(message, errorType)
			return
		}
		if err := sse.WriteDone(id); err != nil {
			slog.Warn("Failed to write done event", "conversation_id", id, "error", err)
		}
	}
}

func keepAlive(sse SSEWriter, stop <-chan struct{}) {
	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := sse.WriteKeepAlive(); err != nil {
				return
			}
		}
	}
}
