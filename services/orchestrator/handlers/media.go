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
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/askai/services/orchestrator/services"
	"github.com/gin-gonic/gin"
)

// MediaAPI is implemented by *services.MediaService.
type MediaAPI interface {
	Describe(ctx context.Context, name string, image []byte, mimeType string) (string, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
	Speak(ctx context.Context, text string) ([]byte, error)
}

// HandleVision describes an uploaded image. The multipart form carries the
// image in "file" and a display name in "name".
func HandleVision(svc MediaAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleVision")
		defer span.End()

		header, err := c.FormFile("file")
		if err != nil {
			writeBindError(c, fmt.Errorf("multipart field 'file' is required: %w", err))
			return
		}
		name := c.PostForm("name")
		if name == "" {
			name = header.Filename
		}
		if header.Size > services.MaxImageBytes {
			writeError(c, &services.InvalidArgumentError{Message: fmt.Sprintf("image exceeds %d bytes", services.MaxImageBytes)})
			return
		}

		f, err := header.Open()
		if err != nil {
			writeError(c, fmt.Errorf("open upload: %w", err))
			return
		}
		defer f.Close()
		image, err := io.ReadAll(io.LimitReader(f, services.MaxImageBytes+1))
		if err != nil {
			writeError(c, fmt.Errorf("read upload: %w", err))
			return
		}

		text, err := svc.Describe(ctx, name, image, header.Header.Get("Content-Type"))
		if err != nil {
			span.RecordError(err)
			writeError(c, err)
			return
		}
		c.String(http.StatusOK, text)
	}
}

// HandleImage generates a PNG from the question text.
func HandleImage(svc MediaAPI) gin.HandlerFunc {
	return binaryHandler("HandleImage", "image/png", svc.GenerateImage)
}

// HandleTalk synthesizes the question text as MP3 speech.
func HandleTalk(svc MediaAPI) gin.HandlerFunc {
	return binaryHandler("HandleTalk", "audio/mpeg", svc.Speak)
}

// binaryHandler writes the full payload on success and only a JSON error
// body on failure.
func binaryHandler(spanName, contentType string, produce func(ctx context.Context, text string) ([]byte, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), spanName)
		defer span.End()

		q, ok := bindQuestion(c)
		if !ok {
			return
		}
		data, err := produce(ctx, q.Question)
		if err != nil {
			span.RecordError(err)
			writeError(c, err)
			return
		}
		slog.Info("Returning media", "path", c.FullPath(), "content_type", contentType, "bytes", len(data))
		c.Data(http.StatusOK, contentType, data)
	}
}
