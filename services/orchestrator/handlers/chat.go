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

	"github.com/AleutianAI/askai/services/llm"
	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
)

var chatTracer = otel.Tracer("askai.orchestrator.handlers")

// ChatAPI is the question-answering surface the handlers need.
// *services.ChatService implements it.
type ChatAPI interface {
	Chat(ctx context.Context, question string) (string, error)
	Ask(ctx context.Context, question string) (string, error)
	Capital(ctx context.Context, stateOrCountry string) (*datatypes.GetCapitalResponse, error)
	CapitalWithInfo(ctx context.Context, stateOrCountry string) (*datatypes.CapitalWithInfo, error)
	Weather(ctx context.Context, question string) (string, error)
	StockPrice(ctx context.Context, question string) (string, error)
	QRCode(ctx context.Context, question string) (*datatypes.QRCodeResponse, error)
	Search(ctx context.Context, conversationID, question string) (string, error)
	SearchStream(ctx context.Context, conversationID, question string, onToken llm.TokenCallback) (string, error)
}

// bindQuestion decodes and validates a Question body. On failure the error
// response has been written and ok is false.
func bindQuestion(c *gin.Context) (q datatypes.Question, ok bool) {
	if err := c.ShouldBindJSON(&q); err != nil {
		writeBindError(c, err)
		return q, false
	}
	if err := q.Validate(); err != nil {
		writeBindError(c, err)
		return q, false
	}
	slog.Info("Received question", "path", c.FullPath(), "question", q.Question)
	return q, true
}

func bindCapitalRequest(c *gin.Context) (req datatypes.GetCapitalRequest, ok bool) {
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return req, false
	}
	if err := req.Validate(); err != nil {
		writeBindError(c, err)
		return req, false
	}
	return req, true
}

// answerHandler adapts a question-in, text-out service call to a handler
// returning datatypes.Answer.
func answerHandler(spanName string, ask func(ctx context.Context, question string) (string, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), spanName)
		defer span.End()

		q, ok := bindQuestion(c)
		if !ok {
			return
		}
		answer, err := ask(ctx, q.Question)
		if err != nil {
			span.RecordError(err)
			writeError(c, err)
			return
		}
		slog.Info("Returning answer", "path", c.FullPath(), "answer", answer)
		c.JSON(http.StatusOK, datatypes.Answer{Answer: answer})
	}
}

// HandleChat answers a question with a single direct model call.
func HandleChat(svc ChatAPI) gin.HandlerFunc {
	return answerHandler("HandleChat", svc.Chat)
}

// HandleAsk answers a question from the document index.
func HandleAsk(svc ChatAPI) gin.HandlerFunc {
	return answerHandler("HandleAsk", svc.Ask)
}

// HandleWeather answers a weather question with the CurrentWeather tool.
func HandleWeather(svc ChatAPI) gin.HandlerFunc {
	return answerHandler("HandleWeather", svc.Weather)
}

// HandleStockPrice answers a stock question with the CurrentStockPrice tool.
func HandleStockPrice(svc ChatAPI) gin.HandlerFunc {
	return answerHandler("HandleStockPrice", svc.StockPrice)
}

func HandleCapital(svc ChatAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleCapital")
		defer span.End()

		req, ok := bindCapitalRequest(c)
		if !ok {
			return
		}
		resp, err := svc.Capital(ctx, req.StateOrCountry)
		if err != nil {
			span.RecordError(err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleCapitalWithInfo returns the capital record. Out-of-domain queries
// come back as 400 with errorType "Invalid Request".
func HandleCapitalWithInfo(svc ChatAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleCapitalWithInfo")
		defer span.End()

		req, ok := bindCapitalRequest(c)
		if !ok {
			return
		}
		info, err := svc.CapitalWithInfo(ctx, req.StateOrCountry)
		if err != nil {
			span.RecordError(err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

// HandleQRCode returns the generated image bytes, or a JSON error and no
// image bytes.
func HandleQRCode(svc ChatAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleQRCode")
		defer span.End()

		q, ok := bindQuestion(c)
		if !ok {
			return
		}
		img, err := svc.QRCode(ctx, q.Question)
		if err != nil {
			span.RecordError(err)
			writeError(c, err)
			return
		}
		slog.Info("Returning QR code", "bytes", len(img.ImageData), "content_type", img.ContentType)
		c.Data(http.StatusOK, img.ContentType, img.ImageData)
	}
}
