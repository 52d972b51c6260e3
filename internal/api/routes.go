package api

import (
	"os"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gin-gonic/gin"

	"github.com/rawblock/txgraph-engine/internal/db"
	"github.com/rawblock/txgraph-engine/internal/risk"
	"github.com/rawblock/txgraph-engine/internal/snapshot"
)

const engineVersion = "0.1.0"

type APIHandler struct {
	manager *snapshot.Manager
	store   *db.PostgresStore
	scorer  *risk.Scorer
	wsHub   *Hub
	network *chaincfg.Params
}

func SetupRouter(manager *snapshot.Manager, store *db.PostgresStore, scorer *risk.Scorer, wsHub *Hub, network *chaincfg.Params) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://rawblock.net,https://www.rawblock.net
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{manager: manager, store: store, scorer: scorer, wsHub: wsHub, network: network}

	r.GET("/", handler.handleRoot)
	r.GET("/health", handler.handleHealth)

	limiter := NewRateLimiter(120, 30)

	api := r.Group("/api/v1")
	api.Use(limiter.Middleware())
	{
		api.GET("/address/:address/metrics", handler.handleAddressMetrics)
		api.GET("/address/:address/risk", handler.handleAddressRisk)
		api.POST("/path", handler.handleFindPath)
		api.GET("/pagerank", handler.handlePageRank)
		api.GET("/communities", handler.handleCommunities)
		api.GET("/communities/stability", handler.handleCommunityStability)
		api.GET("/stats", handler.handleStats)
		api.GET("/high-risk-addresses", handler.handleHighRiskAddresses)
		api.POST("/rebuild", handler.handleRebuild)

		// Observer geography, read straight from the observer schema.
		api.GET("/country-rankings", handler.handleCountryRankings)
		api.GET("/propagation-stats", handler.handlePropagationStats)
		api.GET("/geo-activity", handler.handleGeoActivity)
		api.GET("/peer-locations", handler.handlePeerLocations)
		api.GET("/observer-location", handler.handleObserverLocation)

		api.GET("/stream", wsHub.Subscribe)
	}

	return r
}
