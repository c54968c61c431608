// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/askai/services/llm"
	"github.com/AleutianAI/askai/services/orchestrator/observability"
	"github.com/AleutianAI/askai/services/orchestrator/prompts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var mediaTracer = otel.Tracer("askai.services.media")

// MaxImageBytes caps an uploaded image.
const MaxImageBytes = 20 << 20

// MediaService handles image description, image generation and speech.
type MediaService struct {
	media   llm.MediaClient
	prompts *prompts.Renderer
	metrics *observability.Metrics
}

func NewMediaService(media llm.MediaClient, renderer *prompts.Renderer, metrics *observability.Metrics) (*MediaService, error) {
	if media == nil {
		return nil, fmt.Errorf("media service: media client is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("media service: prompt renderer is required")
	}
	return &MediaService{media: media, prompts: renderer, metrics: metrics}, nil
}

// Describe explains what an uploaded image shows. When mimeType is empty
// it is sniffed from the bytes.
func (m *MediaService) Describe(ctx context.Context, name string, image []byte, mimeType string) (string, error) {
	ctx, span := mediaTracer.Start(ctx, "MediaService.Describe")
	defer span.End()
	span.SetAttributes(attribute.String("image.name", name), attribute.Int("image.bytes", len(image)))

	if len(image) == 0 {
		return "", recordSpanError(span, &InvalidArgumentError{Message: "image file is empty"})
	}
	if len(image) > MaxImageBytes {
		return "", recordSpanError(span, &InvalidArgumentError{Message: fmt.Sprintf("image exceeds %d bytes", MaxImageBytes)})
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(image)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", recordSpanError(span, &InvalidArgumentError{Message: fmt.Sprintf("file %q is not an image (%s)", name, mimeType)})
	}

	prompt, err := m.prompts.Render(prompts.VisionPrompt, nil)
	if err != nil {
		return "", recordSpanError(span, err)
	}
	slog.Info("Describing image", "name", name, "mime_type", mimeType, "bytes", len(image))

	start := time.Now()
	text, err := m.media.DescribeImage(ctx, prompt, image, mimeType)
	m.metrics.RecordModelCall(observability.ModeMedia, time.Since(start), err == nil)
	if err != nil {
		return "", recordSpanError(span, &UpstreamModelError{Op: "describe image", Err: err})
	}
	slog.Info("model output", "mode", observability.ModeMedia, "output", text)
	return text, nil
}

// GenerateImage renders prompt to PNG bytes.
func (m *MediaService) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	ctx, span := mediaTracer.Start(ctx, "MediaService.GenerateImage")
	defer span.End()

	slog.Info("original prompt", "mode", observability.ModeMedia, "prompt", prompt)
	start := time.Now()
	png, err := m.media.GenerateImage(ctx, prompt)
	m.metrics.RecordModelCall(observability.ModeMedia, time.Since(start), err == nil)
	if err != nil {
		return nil, recordSpanError(span, &UpstreamModelError{Op: "generate image", Err: err})
	}
	if len(png) == 0 {
		return nil, recordSpanError(span, &FormatError{Err: fmt.Errorf("image generation returned no data")})
	}
	return png, nil
}

// Speak synthesizes text to MP3 audio.
func (m *MediaService) Speak(ctx context.Context, text string) ([]byte, error) {
	ctx, span := mediaTracer.Start(ctx, "MediaService.Speak")
	defer span.End()

	slog.Info("original prompt", "mode", observability.ModeMedia, "prompt", text)
	start := time.Now()
	audio, err := m.media.Speak(ctx, text)
	m.metrics.RecordModelCall(observability.ModeMedia, time.Since(start), err == nil)
	if err != nil {
		return nil, recordSpanError(span, &UpstreamModelError{Op: "speak", Err: err})
	}
	if len(audio) == 0 {
		return nil, recordSpanError(span, &FormatError{Err: fmt.Errorf("speech synthesis returned no data")})
	}
	return audio, nil
}
