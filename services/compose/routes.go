// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compose

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all Compose routes with the router.
//
// Description:
//
//	Registers all /v1/compose/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET  /v1/compose/tools - List registered tool capabilities
//	POST /v1/compose/chains/discover - Discover a chain between two types
//	POST /v1/compose/chains/execute - Discover and execute a chain
//	POST /v1/compose/convert/graph_to_table - Flatten a graph into tables
//	POST /v1/compose/convert/table_to_graph - Reconstruct a graph from tables
//	POST /v1/compose/convert/graph_to_vector - Project a graph into vectors
//	GET  /v1/compose/provenance/lineage - Trace an artifact to its sources
//	GET  /v1/compose/health - Health check
//	GET  /v1/compose/ready - Readiness check
//
// Example:
//
//	service, _ := compose.NewService(reg, discovery, eng, recorder, converter, logger)
//	handlers := compose.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	compose.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	comp := rg.Group("/compose")
	{
		// Capability discovery
		comp.GET("/tools", handlers.HandleGetTools)

		// Chain discovery and execution
		chains := comp.Group("/chains")
		{
			chains.POST("/discover", handlers.HandleDiscoverChain)
			chains.POST("/execute", handlers.HandleExecuteChain)
		}

		// Direct cross-modal conversion
		convert := comp.Group("/convert")
		{
			convert.POST("/graph_to_table", handlers.HandleConvertGraphToTable)
			convert.POST("/table_to_graph", handlers.HandleConvertTableToGraph)
			convert.POST("/graph_to_vector", handlers.HandleConvertGraphToVector)
		}

		// Provenance
		comp.GET("/provenance/lineage", handlers.HandleLineage)

		// Health checks
		comp.GET("/health", handlers.HandleHealth)
		comp.GET("/ready", handlers.HandleReady)
	}
}
