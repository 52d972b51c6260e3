package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/gin-gonic/gin"

	"github.com/rawblock/txgraph-engine/internal/db"
	"github.com/rawblock/txgraph-engine/internal/graph"
	"github.com/rawblock/txgraph-engine/internal/metrics"
	"github.com/rawblock/txgraph-engine/internal/snapshot"
)

// validateAddress rejects strings that cannot be a Bitcoin address on the
// configured network before they hit the graph. Keeps garbage out of the
// 404 path and gives clients a clearer error.
func (h *APIHandler) validateAddress(c *gin.Context, addr string) bool {
	if h.network == nil {
		return true
	}
	if _, err := btcutil.DecodeAddress(addr, h.network); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid address format", "address": addr})
		return false
	}
	return true
}

// handleRoot reports service liveness and the shape of the active graph.
func (h *APIHandler) handleRoot(c *gin.Context) {
	snap := h.manager.Current()

	var lastUpdate interface{}
	if !snap.Bootstrap {
		lastUpdate = snap.BuiltAt.UTC().Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "online",
		"nodes":      snap.Graph.NodeCount(),
		"edges":      snap.Graph.EdgeCount(),
		"version":    engineVersion,
		"lastUpdate": lastUpdate,
	})
}

// handleHealth is the load balancer probe.
func (h *APIHandler) handleHealth(c *gin.Context) {
	snap := h.manager.Current()
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"graphLoaded": !snap.Bootstrap,
		"dbConnected": h.store != nil,
	})
}

func (h *APIHandler) handleAddressMetrics(c *gin.Context) {
	address := c.Param("address")
	if !h.validateAddress(c, address) {
		return
	}

	snap := h.manager.Current()
	m, err := snap.Graph.AddressMetrics(address)
	if err != nil {
		if errors.Is(err, graph.ErrAddressNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Address not found in transaction graph"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, m)
}

func (h *APIHandler) handleAddressRisk(c *gin.Context) {
	if h.scorer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Risk analyzer not initialized"})
		return
	}
	address := c.Param("address")
	if !h.validateAddress(c, address) {
		return
	}

	snap := h.manager.Current()
	score := h.scorer.Score(c.Request.Context(), snap.Graph, snap.PageRank(), address)
	c.JSON(http.StatusOK, score)
}

// MaxHops is a pointer so an explicit 0 (self-only trace) is
// distinguishable from an omitted field, which defaults to 5.
type pathRequest struct {
	Source  string `json:"source" binding:"required"`
	Target  string `json:"target" binding:"required"`
	MaxHops *int   `json:"maxHops"`
}

// handleFindPath traces the shortest fund flow between two addresses,
// bounded by maxHops edges.
func (h *APIHandler) handleFindPath(c *gin.Context) {
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {source, target, maxHops}"})
		return
	}
	maxHops := 5
	if req.MaxHops != nil {
		maxHops = *req.MaxHops
	}

	snap := h.manager.Current()
	path := snap.Trace(req.Source, req.Target, maxHops)

	var hops interface{}
	if path != nil {
		hops = len(path) - 1
	}
	c.JSON(http.StatusOK, gin.H{
		"source": req.Source,
		"target": req.Target,
		"path":   path,
		"hops":   hops,
	})
}

func (h *APIHandler) handlePageRank(c *gin.Context) {
	topN, _ := strconv.Atoi(c.DefaultQuery("top_n", "10"))
	if topN <= 0 {
		topN = 10
	}

	snap := h.manager.Current()
	ranking := snap.PageRank()

	type ranked struct {
		Address  string  `json:"address"`
		PageRank float64 `json:"pagerank"`
	}
	sorted := make([]ranked, 0, len(ranking))
	for addr, score := range ranking {
		sorted = append(sorted, ranked{Address: addr, PageRank: score})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].PageRank != sorted[j].PageRank {
			return sorted[i].PageRank > sorted[j].PageRank
		}
		return sorted[i].Address < sorted[j].Address
	})
	if len(sorted) > topN {
		sorted = sorted[:topN]
	}

	c.JSON(http.StatusOK, gin.H{"topAddresses": sorted})
}

func (h *APIHandler) handleCommunities(c *gin.Context) {
	snap := h.manager.Current()
	communities := snap.Communities()

	type communityView struct {
		ID        int      `json:"id"`
		Size      int      `json:"size"`
		Addresses []string `json:"addresses"`
	}
	views := make([]communityView, 0, len(communities))
	for i, members := range communities {
		preview := members
		if len(preview) > 10 {
			preview = preview[:10]
		}
		views = append(views, communityView{ID: i, Size: len(members), Addresses: preview})
	}

	c.JSON(http.StatusOK, gin.H{
		"totalCommunities": len(communities),
		"communities":      views,
	})
}

// handleCommunityStability compares the community partition of the active
// snapshot against the previous generation.
func (h *APIHandler) handleCommunityStability(c *gin.Context) {
	current := h.manager.Current()
	previous := h.manager.Previous()
	if previous == nil {
		c.JSON(http.StatusOK, gin.H{"comparable": false, "reason": "no previous snapshot yet"})
		return
	}

	agreement := metrics.PartitionAgreement(previous.Communities(), current.Communities())
	c.JSON(http.StatusOK, gin.H{
		"comparable":             agreement.SharedAddresses >= 2,
		"adjustedRandIndex":      agreement.AdjustedRandIndex,
		"variationOfInformation": agreement.VariationOfInformation,
		"sharedAddresses":        agreement.SharedAddresses,
		"currentSnapshotId":      current.ID.String(),
		"previousSnapshotId":     previous.ID.String(),
	})
}

func (h *APIHandler) handleStats(c *gin.Context) {
	snap := h.manager.Current()
	g := snap.Graph

	stats := gin.H{
		"nodes":      g.NodeCount(),
		"edges":      g.EdgeCount(),
		"density":    g.Density(),
		"snapshotId": snap.ID.String(),
	}
	if g.NodeCount() > 0 {
		stats["avgDegree"] = g.AvgDegree()
		stats["transactions"] = g.TxCount()
		stats["skippedTransactions"] = g.SkippedTxs()
		stats["totalVolumeBtc"] = btcutil.Amount(g.TotalVolume()).ToBTC()
	}

	c.JSON(http.StatusOK, stats)
}

func (h *APIHandler) handleHighRiskAddresses(c *gin.Context) {
	if h.scorer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Risk analyzer not initialized"})
		return
	}
	topN, _ := strconv.Atoi(c.DefaultQuery("top_n", "10"))
	if topN <= 0 {
		topN = 10
	}

	snap := h.manager.Current()
	ranking := snap.PageRank()

	// Double-spend participants widen the candidate pool beyond what the
	// graph alone can surface. An unreachable store just narrows the pool.
	var flagged []string
	if h.store != nil {
		if addrs, err := h.store.FlaggedDoubleSpendAddresses(c.Request.Context()); err == nil {
			flagged = addrs
		}
	}

	risks := h.scorer.SweepHighRisk(c.Request.Context(), snap.Graph, ranking, flagged, topN)

	type riskView struct {
		Address     string             `json:"address"`
		RiskScore   float64            `json:"riskScore"`
		PageRank    float64            `json:"pagerank"`
		Factors     map[string]float64 `json:"factors"`
		Explanation string             `json:"explanation"`
	}
	views := make([]riskView, 0, len(risks))
	for _, r := range risks {
		views = append(views, riskView{
			Address:     r.Address,
			RiskScore:   r.Score,
			PageRank:    ranking[r.Address],
			Factors:     r.RiskFactors,
			Explanation: r.Explanation,
		})
	}

	c.JSON(http.StatusOK, gin.H{"highRiskAddresses": views})
}

// handleRebuild triggers an immediate snapshot rebuild, outside the timer.
func (h *APIHandler) handleRebuild(c *gin.Context) {
	err := h.manager.Rebuild(c.Request.Context())
	switch {
	case errors.Is(err, snapshot.ErrRebuildInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Rebuild already in progress"})
	case errors.Is(err, snapshot.ErrNoFeed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": "Rebuild failed", "details": err.Error()})
	default:
		snap := h.manager.Current()
		c.JSON(http.StatusOK, gin.H{
			"status":     "rebuilt",
			"snapshotId": snap.ID.String(),
			"nodes":      snap.Graph.NodeCount(),
			"edges":      snap.Graph.EdgeCount(),
		})
	}
}

// The geography endpoints degrade to empty payloads when the store is
// unreachable so the dashboard map keeps rendering.

func (h *APIHandler) handleCountryRankings(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"rankings": []db.CountryRanking{}, "error": "database not connected"})
		return
	}
	rankings, err := h.store.CountryRankings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"rankings": []db.CountryRanking{}, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rankings": rankings})
}

func (h *APIHandler) handlePropagationStats(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"byRegion": []db.RegionPropagation{}, "error": "database not connected"})
		return
	}
	stats, err := h.store.PropagationStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"byRegion": []db.RegionPropagation{}, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"byRegion": stats})
}

func (h *APIHandler) handleGeoActivity(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"locations": []db.GeoActivity{}, "error": "database not connected"})
		return
	}
	activity, err := h.store.GeoActivityLastHour(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"locations": []db.GeoActivity{}, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"locations": activity})
}

func (h *APIHandler) handlePeerLocations(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"peers": []db.PeerLocation{}, "error": "database not connected"})
		return
	}
	peers, err := h.store.PeerLocations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"peers": []db.PeerLocation{}, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"peers": peers})
}

var geoClient = &http.Client{Timeout: 5 * time.Second}

// handleObserverLocation resolves the observer's own coordinates from its
// public IP via ip-api.com. Falls back to central London when the lookup
// fails so the map always has an origin point.
func (h *APIHandler) handleObserverLocation(c *gin.Context) {
	fallback := gin.H{"lat": 51.5074, "lng": -0.1278, "city": "Unknown", "country": "Unknown", "ip": "Unknown"}

	resp, err := geoClient.Get("http://ip-api.com/json/")
	if err != nil {
		c.JSON(http.StatusOK, fallback)
		return
	}
	defer resp.Body.Close()

	var data struct {
		Status  string  `json:"status"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
		City    string  `json:"city"`
		Country string  `json:"country"`
		Query   string  `json:"query"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil || data.Status != "success" {
		c.JSON(http.StatusOK, fallback)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lat":     data.Lat,
		"lng":     data.Lon,
		"city":    data.City,
		"country": data.Country,
		"ip":      data.Query,
	})
}
