package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gin-gonic/gin"

	"github.com/rawblock/txgraph-engine/internal/api"
	"github.com/rawblock/txgraph-engine/internal/db"
	"github.com/rawblock/txgraph-engine/internal/logger"
	"github.com/rawblock/txgraph-engine/internal/risk"
	"github.com/rawblock/txgraph-engine/internal/snapshot"
)

func main() {
	if getEnvOrDefault("LOG_FORMAT", "console") == "json" {
		logger.SetJSONOutput()
	}
	if getEnvOrDefault("LOG_LEVEL", "info") == "debug" {
		logger.SetDebugLevel()
	}
	log := logger.Component("main")

	log.Info().Msg("starting RawBlock Transaction Graph Analytics Engine")

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	dbUrl := requireEnv("DATABASE_URL")

	var store *db.PostgresStore
	conn, err := db.Connect(dbUrl)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to PostgreSQL, serving from an empty graph")
	} else {
		store = conn
		defer store.Close()
	}

	network := resolveNetwork(getEnvOrDefault("BTC_NETWORK", "mainnet"))

	interval := time.Duration(envInt("REBUILD_INTERVAL_SECONDS", 120)) * time.Second
	rowLimit := envInt("ROW_LIMIT", snapshot.DefaultRowLimit)

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	// A nil store means no feed and no double-spend oracle; the manager
	// and scorer both degrade cleanly.
	var feed snapshot.RowFeed
	var oracle risk.DoubleSpendOracle
	if store != nil {
		feed = store
		oracle = store
	}

	scorer := risk.NewScorer(oracle)

	manager := snapshot.NewManager(feed, interval, rowLimit, wsHub)
	manager.SetAlertFunc(broadcastHighRiskSweep(store, scorer, wsHub))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		manager.StartupRebuild(ctx)
		manager.Run(ctx)
	}()

	if getEnvOrDefault("GIN_MODE", "") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := api.SetupRouter(manager, store, scorer, wsHub, network)

	port := getEnvOrDefault("PORT", "5340")

	log.Info().Str("port", port).Str("network", network.Name).Msg("engine listening")
	if err := r.Run(":" + port); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}

// broadcastHighRiskSweep pushes the freshest high-risk ranking to stream
// subscribers after every successful rebuild.
func broadcastHighRiskSweep(store *db.PostgresStore, scorer *risk.Scorer, hub *api.Hub) snapshot.AlertFunc {
	log := logger.Component("sweep")
	return func(snap *snapshot.Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var flagged []string
		if store != nil {
			if addrs, err := store.FlaggedDoubleSpendAddresses(ctx); err == nil {
				flagged = addrs
			} else {
				log.Warn().Err(err).Msg("flagged address lookup failed, sweeping graph signals only")
			}
		}

		risks := scorer.SweepHighRisk(ctx, snap.Graph, snap.PageRank(), flagged, 10)
		if len(risks) == 0 {
			return
		}

		payload, err := json.Marshal(map[string]interface{}{
			"type":              "high_risk_sweep",
			"snapshotId":        snap.ID.String(),
			"highRiskAddresses": risks,
		})
		if err != nil {
			return
		}
		hub.Broadcast(payload)
		log.Info().Int("addresses", len(risks)).Float64("top_score", risks[0].Score).Msg("high-risk sweep broadcast")
	}
}

func resolveNetwork(name string) *chaincfg.Params {
	switch name {
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// requireEnv reads a required environment variable and exits if it is not set.
// This prevents the binary from starting with missing critical configuration.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		logger.Log.Fatal().Str("key", key).Msg("required environment variable is not set. " +
			"Copy .env.example to .env and fill in your values: cp .env.example .env")
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
