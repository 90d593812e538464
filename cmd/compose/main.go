// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command compose starts the Aleutian Compose API server.
//
// Aleutian Compose is a type-directed tool composition framework:
//   - Tools declare typed capabilities; chains are discovered, not scripted
//   - Every step self-assesses uncertainty, compounded across the chain
//   - Cross-modal conversion (graph/table/vector) with explicit loss accounting
//   - Append-only provenance with source lineage for every artifact
//
// Usage:
//
//	go run ./cmd/compose
//	go run ./cmd/compose -port 9090
//	go run ./cmd/compose -data-dir /var/lib/compose
//
// With an embedding service (for semantic vector projection):
//
//	EMBEDDING_SERVICE_URL=http://localhost:11434/api/embed go run ./cmd/compose
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/compose/health
//
//	# List registered tool capabilities
//	curl http://localhost:8080/v1/compose/tools | jq
//
//	# Discover a chain
//	curl -X POST http://localhost:8080/v1/compose/chains/discover \
//	  -H "Content-Type: application/json" \
//	  -d '{"input_type": "FILE", "output_type": "TEXT"}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/compose/services/compose"
	"github.com/AleutianAI/compose/services/compose/capability"
	"github.com/AleutianAI/compose/services/compose/chain"
	composeconfig "github.com/AleutianAI/compose/services/compose/config"
	"github.com/AleutianAI/compose/services/compose/crossmodal"
	"github.com/AleutianAI/compose/services/compose/engine"
	"github.com/AleutianAI/compose/services/compose/provenance"
	badgerstore "github.com/AleutianAI/compose/services/compose/storage/badger"
	"github.com/AleutianAI/compose/services/compose/storage/sqlite"
	"github.com/AleutianAI/compose/services/compose/toolkit"
	"github.com/AleutianAI/compose/services/compose/uncertainty"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	dataDir := flag.String("data-dir", "", "Data directory for provenance and tables (default ~/.aleutian/compose)")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation so chain spans join the caller's trace.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cfg, err := composeconfig.GetAssessorConfig(context.Background())
	if err != nil {
		slog.Error("Failed to load assessor config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	dir := *dataDir
	if dir == "" {
		if home, homeErr := os.UserHomeDir(); homeErr == nil {
			dir = filepath.Join(home, ".aleutian", "compose")
		}
	}

	// Durable provenance via BadgerDB. Graceful degradation: if the log
	// cannot open, the service runs with in-memory provenance and says so.
	var recorder provenance.Recorder
	var provDB *badgerstore.DB
	if dir != "" {
		badgerCfg := badgerstore.DefaultConfig()
		badgerCfg.Path = filepath.Join(dir, "provenance")
		db, dbErr := badgerstore.OpenDB(badgerCfg)
		if dbErr != nil {
			slog.Warn("Provenance BadgerDB unavailable, records will not survive restart",
				slog.String("path", badgerCfg.Path),
				slog.String("error", dbErr.Error()),
			)
		} else {
			provDB = db
			recorder, err = provenance.NewBadgerRecorder(db, slog.Default())
			if err != nil {
				slog.Error("Failed to create provenance recorder", slog.String("error", err.Error()))
				os.Exit(1)
			}
			slog.Info("Provenance BadgerDB opened", slog.String("path", badgerCfg.Path))
		}
	}
	if recorder == nil {
		recorder = provenance.NewMemoryRecorder(slog.Default())
	}

	// Tabular store for TABLE_REF hops. Also degrades gracefully: without
	// it, persist_table and load_table are simply not registered.
	var tables *sqlite.TabularStore
	if dir != "" {
		tables, err = sqlite.NewTabularStore(filepath.Join(dir, "tables"), slog.Default())
		if err != nil {
			slog.Warn("Tabular store unavailable, table persistence tools disabled",
				slog.String("error", err.Error()),
			)
			tables = nil
		}
	}

	assessor := uncertainty.NewRuleBasedAssessor(cfg, slog.Default())

	var vectorizer crossmodal.Vectorizer = crossmodal.DeterministicProjector{}
	if os.Getenv("EMBEDDING_SERVICE_URL") != "" {
		vectorizer = crossmodal.NewHTTPEmbedder("", "", slog.Default())
	}
	converter, err := crossmodal.NewConverter(assessor, vectorizer, cfg.Limits.MaxRowsPerConversion, slog.Default())
	if err != nil {
		slog.Error("Failed to create converter", slog.String("error", err.Error()))
		os.Exit(1)
	}

	reg := capability.NewRegistry(slog.Default())
	if err := toolkit.RegisterBuiltins(reg, toolkit.Deps{
		Converter: converter,
		Tables:    tables,
		Assessor:  assessor,
		Logger:    slog.Default(),
	}); err != nil {
		slog.Error("Failed to register built-in tools", slog.String("error", err.Error()))
		os.Exit(1)
	}
	reg.Freeze()
	slog.Info("Tool registry frozen", slog.Int("tools", reg.Count()))

	eng, err := engine.NewEngine(reg, recorder, cfg.Limits.MaxConcurrentChains, slog.Default())
	if err != nil {
		slog.Error("Failed to create engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	discovery := chain.NewDiscovery(reg, slog.Default(),
		chain.WithMaxChainLength(cfg.Limits.MaxChainLength))
	service, err := compose.NewService(reg, discovery, eng, recorder, converter, slog.Default())
	if err != nil {
		slog.Error("Failed to create service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-compose"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	compose.RegisterRoutes(v1, compose.NewHandlers(service))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	printBanner(*port, reg.Count())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("Shutting down Aleutian Compose server")
		if provDB != nil {
			if err := provDB.Close(); err != nil {
				slog.Warn("Failed to close provenance BadgerDB", slog.String("error", err.Error()))
			}
		}
		if tables != nil {
			if err := tables.Close(); err != nil {
				slog.Warn("Failed to close tabular store", slog.String("error", err.Error()))
			}
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting Aleutian Compose server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func printBanner(port, toolCount int) {
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                     ALEUTIAN COMPOSE SERVER                       ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Type-directed tool composition with uncertainty tracking.        ║
║  Registered tools: %-3d                                            ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/compose/health            │  ║
║  │                                                             │  ║
║  │ # List tool capabilities                                    │  ║
║  │ curl http://localhost:%d/v1/compose/tools | jq        │  ║
║  │                                                             │  ║
║  │ # Discover a chain                                          │  ║
║  │ curl -X POST http://localhost:%d/v1/compose/chains/discover \ ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"input_type": "FILE", "output_type": "TEXT"}'        │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Chains: /chains/discover, /chains/execute                   ║
║  ├── Convert: /convert/{graph_to_table,table_to_graph,...}       ║
║  ├── Provenance: /provenance/lineage                             ║
║  └── Ops: /health, /ready, /metrics                              ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, toolCount, port, port, port)
}
