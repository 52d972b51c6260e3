package risk

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rawblock/txgraph-engine/internal/graph"
	"github.com/rawblock/txgraph-engine/internal/logger"
	"github.com/rawblock/txgraph-engine/pkg/models"
)

// Address Risk Scorer
//
// Composites five independent signals against one graph snapshot into a
// bounded 0-100 verdict. The weights sum to exactly 100, so no final cap
// is needed — each factor is individually bounded:
//
//   double_spend      flat 45   direct evidence of malicious behavior
//   potential_mixer   flat 25   in-degree > 50 AND out-degree > 50
//   high_centrality   ≤ 15      PageRank > 0.01, min(score·1500, 15)
//   high_volume       ≤ 10      in+out degree > 100, min(degree/100, 10)
//   low_clustering    flat 5    clustering coefficient < 0.1
//
// Double-spend evidence comes from the observer store. If that lookup
// fails the factor degrades to zero evidence — a flaky collaborator must
// never turn a read-only risk query into an error.
//
// Scores are recomputed on demand and never cached: they depend on the
// oracle as well as the snapshot, and the snapshot itself is the only
// caching boundary this service recognizes.

const (
	weightDoubleSpend   = 45.0
	weightMixer         = 25.0
	capCentrality       = 15.0
	capVolume           = 10.0
	weightLowClustering = 5.0

	mixerDegreeThreshold = 50
	centralityThreshold  = 0.01
	centralityMultiplier = 1500.0
	volumeThreshold      = 100
	clusteringThreshold  = 0.1
)

const notFoundExplanation = "Address not found in transaction graph"

// DoubleSpendOracle answers whether an address touches any transaction
// flagged as a double-spend attempt.
type DoubleSpendOracle interface {
	DoubleSpendInvolvement(ctx context.Context, address string) (models.DoubleSpendEvidence, error)
}

// Scorer combines graph-structural signals with oracle evidence.
type Scorer struct {
	oracle DoubleSpendOracle // nil means no oracle: zero evidence
	log    zerolog.Logger
}

func NewScorer(oracle DoubleSpendOracle) *Scorer {
	return &Scorer{
		oracle: oracle,
		log:    logger.Component("risk"),
	}
}

// Score computes the composite risk score for one address against the
// given snapshot graph and its PageRank distribution. An address absent
// from the graph is a defined zero-information result, not an error.
func (s *Scorer) Score(ctx context.Context, g *graph.Graph, pagerank map[string]float64, address string) models.RiskScore {
	if !g.HasNode(address) {
		return models.RiskScore{
			Address:     address,
			Score:       0,
			RiskFactors: map[string]float64{},
			Explanation: notFoundExplanation,
		}
	}

	factors := make(map[string]float64)

	// 1. Double-spend involvement: the strongest signal.
	if s.doubleSpendCount(ctx, address) > 0 {
		factors["double_spend"] = weightDoubleSpend
	}

	metrics, err := g.AddressMetrics(address)
	if err != nil {
		// HasNode guaranteed presence above.
		s.log.Error().Err(err).Str("address", address).Msg("metrics lookup failed for present address")
		return models.RiskScore{Address: address, RiskFactors: map[string]float64{}, Explanation: notFoundExplanation}
	}

	// 2. Mixing pattern: heavy fan-in AND fan-out.
	if metrics.InDegree > mixerDegreeThreshold && metrics.OutDegree > mixerDegreeThreshold {
		factors["potential_mixer"] = weightMixer
	}

	// 3. Network centrality.
	if pr := pagerank[address]; pr > centralityThreshold {
		factors["high_centrality"] = math.Min(pr*centralityMultiplier, capCentrality)
	}

	// 4. Transaction volume by total degree.
	if total := metrics.InDegree + metrics.OutDegree; total > volumeThreshold {
		factors["high_volume"] = math.Min(float64(total)/100, capVolume)
	}

	// 5. Low clustering: peers that never transact with each other.
	if metrics.ClusteringCoefficient < clusteringThreshold {
		factors["low_clustering"] = weightLowClustering
	}

	total := 0.0
	for _, v := range factors {
		total += v
	}

	return models.RiskScore{
		Address:     address,
		Score:       total,
		RiskFactors: factors,
		Explanation: explain(factors),
	}
}

// doubleSpendCount degrades oracle failure to zero evidence.
func (s *Scorer) doubleSpendCount(ctx context.Context, address string) int {
	if s.oracle == nil {
		return 0
	}
	evidence, err := s.oracle.DoubleSpendInvolvement(ctx, address)
	if err != nil {
		s.log.Warn().Err(err).Str("address", address).Msg("double-spend lookup failed, assuming zero evidence")
		return 0
	}
	return evidence.Count
}

// explain renders the triggered factors as one string, most urgent first.
func explain(factors map[string]float64) string {
	if len(factors) == 0 {
		return "No significant risk factors detected"
	}

	var phrases []string
	if _, ok := factors["double_spend"]; ok {
		phrases = append(phrases, "INVOLVED IN DOUBLE-SPEND ATTEMPT (direct evidence of malicious activity)")
	}
	if _, ok := factors["potential_mixer"]; ok {
		phrases = append(phrases, "Transaction pattern consistent with mixing service")
	}
	if _, ok := factors["high_centrality"]; ok {
		phrases = append(phrases, "High network centrality (influential address)")
	}
	if _, ok := factors["high_volume"]; ok {
		phrases = append(phrases, "High transaction volume")
	}
	if _, ok := factors["low_clustering"]; ok {
		phrases = append(phrases, "Low clustering coefficient (limited peer connections)")
	}
	return strings.Join(phrases, "; ")
}

// SweepHighRisk scores a candidate pool assembled from the structural
// signals that make an address worth looking at — the top of the PageRank
// ranking, known double-spend participants (supplied by the caller from
// the store), and mixer-shaped hubs found by a degree scan — and returns
// the topN scores in descending order.
func (s *Scorer) SweepHighRisk(ctx context.Context, g *graph.Graph, pagerank map[string]float64, flagged []string, topN int) []models.RiskScore {
	if topN <= 0 {
		topN = 10
	}

	candidates := make(map[string]struct{})

	// Top-50 by centrality. Ties broken by address for reproducibility.
	ranked := make([]string, 0, len(pagerank))
	for addr := range pagerank {
		ranked = append(ranked, addr)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if pagerank[ranked[i]] != pagerank[ranked[j]] {
			return pagerank[ranked[i]] > pagerank[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > 50 {
		ranked = ranked[:50]
	}
	for _, addr := range ranked {
		candidates[addr] = struct{}{}
	}

	for _, addr := range flagged {
		if g.HasNode(addr) {
			candidates[addr] = struct{}{}
		}
	}

	for _, addr := range g.Nodes() {
		in, out := g.Degrees(addr)
		if in > mixerDegreeThreshold && out > mixerDegreeThreshold {
			candidates[addr] = struct{}{}
		}
	}

	scores := make([]models.RiskScore, 0, len(candidates))
	for addr := range candidates {
		scores = append(scores, s.Score(ctx, g, pagerank, addr))
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Address < scores[j].Address
	})

	if len(scores) > topN {
		scores = scores[:topN]
	}
	return scores
}
