// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/askai/services/orchestrator/handlers"
	"github.com/AleutianAI/askai/services/orchestrator/memory"
	"github.com/AleutianAI/askai/services/orchestrator/middleware"
	"github.com/AleutianAI/askai/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the collaborators the routes dispatch to.
type Dependencies struct {
	Chat     handlers.ChatAPI
	Media    handlers.MediaAPI
	Ingester handlers.DocumentIngester
	Memory   memory.Store
	Index    handlers.DocumentCounter
	Metrics  *observability.Metrics
	// Gatherer serves /metrics. Nil uses the default Prometheus registry.
	Gatherer prometheus.Gatherer
	// APIToken guards /api/v1 when non-empty.
	APIToken string
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.Use(middleware.RequestMetrics(deps.Metrics))

	router.GET("/health", handlers.HandleHealth(deps.Memory, deps.Index))

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API version 1 group
	v1 := router.Group("/api/v1", middleware.BearerAuth(deps.APIToken))
	{
		v1.POST("/chat", handlers.HandleChat(deps.Chat))
		v1.POST("/ask", handlers.HandleAsk(deps.Chat))
		v1.POST("/capital", handlers.HandleCapital(deps.Chat))
		v1.POST("/capitalWithInfo", handlers.HandleCapitalWithInfo(deps.Chat))
		v1.POST("/weather", handlers.HandleWeather(deps.Chat))
		v1.POST("/stockprice", handlers.HandleStockPrice(deps.Chat))
		v1.POST("/qrcode", handlers.HandleQRCode(deps.Chat))
		v1.POST("/search", handlers.HandleSearch(deps.Chat))
		v1.POST("/search/stream", handlers.HandleSearchStream(deps.Chat, deps.Metrics))

		if deps.Media != nil {
			v1.POST("/vision", handlers.HandleVision(deps.Media))
			v1.POST("/image", handlers.HandleImage(deps.Media))
			v1.POST("/talk", handlers.HandleTalk(deps.Media))
		}
		if deps.Ingester != nil {
			v1.POST("/documents", handlers.HandleCreateDocument(deps.Ingester))
		}
		if deps.Memory != nil {
			conversations := v1.Group("/conversations")
			{
				conversations.GET("", handlers.ListConversations(deps.Memory))
				conversations.GET("/:conversationId/history", handlers.GetConversationHistory(deps.Memory))
			}
		}
	}
}
