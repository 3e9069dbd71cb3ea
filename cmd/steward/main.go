// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command steward starts the Aleutian Steward API server.
//
// Aleutian Steward is the decision-and-dispatch engine behind a
// conversational data assistant:
//   - Entity catalog with declarative YAML config and code-attached tools
//   - LLM-prompted tool decision with a deterministic heuristic fallback
//   - Filtered, paginated structured queries with session-scoped state
//   - Semantic search with automatic structured-query fallback
//   - Remote-partition routing signals for entities this node does not serve
//
// Usage:
//
//	go run ./cmd/steward
//	go run ./cmd/steward -port 9090 -db ./steward.db
//
// With an OpenAI-compatible decision model:
//
//	OPENAI_API_KEY=sk-... go run ./cmd/steward
//	OPENAI_BASE_URL=http://localhost:8000/v1 OPENAI_MODEL=qwen2.5-7b go run ./cmd/steward
//
// With Weaviate semantic search:
//
//	WEAVIATE_HOST=localhost:8090 go run ./cmd/steward
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/steward/health
//
//	# Entity catalog
//	curl http://localhost:8080/v1/steward/entities | jq
//
//	# One conversational turn
//	curl -X POST http://localhost:8080/v1/steward/process \
//	  -H "Content-Type: application/json" \
//	  -d '{"message": "list invoices", "session_id": "demo", "user_id": "u1"}'
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/Steward/services/llm"
	"github.com/AleutianAI/Steward/services/steward"
	"github.com/AleutianAI/Steward/services/steward/catalog"
	"github.com/AleutianAI/Steward/services/steward/session"
	"github.com/AleutianAI/Steward/services/steward/store"
	"github.com/AleutianAI/Steward/services/steward/vector"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	dbPath := flag.String("db", "steward.db", "SQLite database path")
	stateDir := flag.String("state-dir", "", "BadgerDB directory for session state (default ~/.aleutian/steward/state)")
	catalogPath := flag.String("catalog", "", "Catalog YAML to load and watch (default: embedded catalog)")
	seed := flag.Bool("seed", false, "Seed the demo invoice dataset on startup")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation so inbound traceparent headers flow
	// through decide/dispatch/query spans.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Record source.
	source, err := store.OpenSQLite(*dbPath, slog.Default())
	if err != nil {
		slog.Error("Failed to open SQLite database",
			slog.String("path", *dbPath), slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *seed {
		if err := seedDemoData(source); err != nil {
			slog.Error("Demo data seed failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		slog.Info("Demo invoice dataset seeded", slog.String("db", *dbPath))
	}

	// Entity catalog: declarative portion from YAML, behavior attached in
	// code. A -catalog path is hot-reloaded; the embedded default is not.
	registry := catalog.NewRegistry(source, slog.Default())
	var stopWatch func()
	if *catalogPath != "" {
		stop, err := registry.WatchConfigFile(*catalogPath, slog.Default())
		if err != nil {
			slog.Error("Failed to load catalog config",
				slog.String("path", *catalogPath), slog.String("error", err.Error()))
			os.Exit(1)
		}
		stopWatch = stop
	} else {
		cfg, err := catalog.DefaultConfig()
		if err != nil {
			slog.Error("Embedded catalog invalid", slog.String("error", err.Error()))
			os.Exit(1)
		}
		registry.LoadConfig(cfg)
	}
	attachInvoiceBehavior(registry, source)

	// Session state: BadgerDB with graceful degradation to in-memory.
	states, badgerDB := openStateStore(*stateDir)

	// Decision model: optional; without it every turn uses the heuristic
	// fallback.
	var chat llm.ChatClient
	if client, err := llm.NewOpenAIClient(); err != nil {
		slog.Warn("Decision model unavailable, using heuristic fallback only",
			slog.String("error", err.Error()))
	} else {
		chat = client
		slog.Info("Decision model connected", slog.String("model", client.Model()))
	}

	// Semantic search: optional.
	var searcher vector.SemanticSearcher
	if host := os.Getenv("WEAVIATE_HOST"); host != "" {
		scheme := os.Getenv("WEAVIATE_SCHEME")
		if scheme == "" {
			scheme = "http"
		}
		ws, err := vector.NewWeaviateSearcher(host, scheme, slog.Default())
		if err != nil {
			slog.Warn("Weaviate unavailable, vector_search will fall back to structured queries",
				slog.String("host", host), slog.String("error", err.Error()))
		} else {
			searcher = ws
			slog.Info("Weaviate connected", slog.String("host", host))
		}
	}

	svc, err := steward.NewService(steward.Dependencies{
		Registry: registry,
		Source:   source,
		States:   states,
		Chat:     chat,
		Searcher: searcher,
	}, steward.DefaultConfig(), slog.Default())
	if err != nil {
		slog.Error("Failed to wire service", slog.String("error", err.Error()))
		os.Exit(1)
	}
	handlers := steward.NewHandlers(svc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-steward"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	steward.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	printBanner(*port, chat != nil, searcher != nil)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("Shutting down Aleutian Steward server")
		if stopWatch != nil {
			stopWatch()
		}
		if badgerDB != nil {
			if err := badgerDB.Close(); err != nil {
				slog.Warn("Failed to close session state store", slog.String("error", err.Error()))
			}
		}
		if err := source.Close(); err != nil {
			slog.Warn("Failed to close SQLite database", slog.String("error", err.Error()))
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting Aleutian Steward server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// openStateStore opens the BadgerDB-backed session store, degrading to
// in-memory when the directory is unusable. Restart survival is lost but
// the engine stays up.
func openStateStore(dir string) (session.StateStore, *badger.DB) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Warn("No home directory, session state is in-memory only",
				slog.String("error", err.Error()))
			return session.NewMemoryStateStore(0), nil
		}
		dir = filepath.Join(home, ".aleutian", "steward", "state")
	}
	db, err := session.OpenBadger(dir)
	if err != nil {
		slog.Warn("Session state BadgerDB unavailable, falling back to in-memory",
			slog.String("path", dir), slog.String("error", err.Error()))
		return session.NewMemoryStateStore(0), nil
	}
	slog.Info("Session state BadgerDB opened", slog.String("path", dir))
	return session.NewBadgerStateStore(db, 0, slog.Default()), db
}

func printBanner(port int, modelConnected, searchConnected bool) {
	onOff := func(b bool, enabled, disabled string) string {
		if b {
			return enabled
		}
		return disabled
	}

	fmt.Printf(`
╔═══════════════════════════════════════════════════════════════════╗
║                     ALEUTIAN STEWARD SERVER                       ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Conversational decision-and-dispatch over your structured data.  ║
║                                                                   ║
║  Decision model:  %-48s ║
║  Semantic search: %-48s ║
║                                                                   ║
║  Quick Start:                                                     ║
║    curl http://localhost:%-5d/v1/steward/health                  ║
║    curl http://localhost:%-5d/v1/steward/entities                ║
║    curl -X POST http://localhost:%-5d/v1/steward/process \       ║
║      -H "Content-Type: application/json" \                        ║
║      -d '{"message": "list invoices", "user_id": "u1"}'           ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`,
		onOff(modelConnected, "ENABLED", "DISABLED (heuristic fallback only)"),
		onOff(searchConnected, "ENABLED", "DISABLED (set WEAVIATE_HOST)"),
		port, port, port)
}
