// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package steward

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all Steward routes with the router.
//
// Description:
//
//	Registers all /v1/steward/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/steward/process - Run one conversational turn
//	GET  /v1/steward/entities - Entity catalog discovery
//	GET  /v1/steward/health - Health check
//	GET  /v1/steward/ready - Readiness check
//
// Example:
//
//	service, _ := steward.NewService(deps, steward.DefaultConfig(), nil)
//	handlers := steward.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	steward.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	steward := rg.Group("/steward")
	{
		// Turn processing
		steward.POST("/process", handlers.HandleProcess)

		// Catalog discovery
		steward.GET("/entities", handlers.HandleEntities)

		// Health checks
		steward.GET("/health", handlers.HandleHealth)
		steward.GET("/ready", handlers.HandleReady)
	}
}
