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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianRelay/services/orchestrator/observability"
)

// SetupRoutes registers all relay endpoints on the router.
func SetupRoutes(router *gin.Engine, r handlers.Relay, metrics *observability.QueryMetrics) {
	router.GET("/health", handlers.HandleHealth(r))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/query", handlers.HandleQuery(r, metrics))
		v1.POST("/query/stream", handlers.HandleQueryStream(r, metrics))
		v1.GET("/costs", handlers.HandleCosts(r))
	}
}
