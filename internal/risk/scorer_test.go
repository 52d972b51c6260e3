package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rawblock/txgraph-engine/internal/graph"
	"github.com/rawblock/txgraph-engine/pkg/models"
)

type stubOracle struct {
	evidence map[string]models.DoubleSpendEvidence
	err      error
}

func (o *stubOracle) DoubleSpendInvolvement(_ context.Context, address string) (models.DoubleSpendEvidence, error) {
	if o.err != nil {
		return models.DoubleSpendEvidence{}, o.err
	}
	return o.evidence[address], nil
}

func av(addr string, value int64) graph.AddressValue {
	return graph.AddressValue{Address: addr, Value: value}
}

// hubGraph builds an address with the given fan-in and fan-out, each
// counterparty distinct so degrees equal the requested values.
func hubGraph(hub string, fanIn, fanOut int) *graph.Graph {
	g := graph.New()
	for i := 0; i < fanIn; i++ {
		src := fmt.Sprintf("in%03d", i)
		g.AddTransaction(fmt.Sprintf("ti%03d", i), []graph.AddressValue{av(src, 100)}, []graph.AddressValue{av(hub, 100)}, time.Time{})
	}
	for i := 0; i < fanOut; i++ {
		dst := fmt.Sprintf("out%03d", i)
		g.AddTransaction(fmt.Sprintf("to%03d", i), []graph.AddressValue{av(hub, 100)}, []graph.AddressValue{av(dst, 100)}, time.Time{})
	}
	return g
}

func TestScore_AddressNotFound(t *testing.T) {
	g := graph.New()
	s := NewScorer(nil)

	score := s.Score(context.Background(), g, map[string]float64{}, "unknown")

	if score.Score != 0 {
		t.Errorf("Expected zero score for absent address. Got: %f", score.Score)
	}
	if len(score.RiskFactors) != 0 {
		t.Errorf("Expected no factors. Got: %v", score.RiskFactors)
	}
	if score.Explanation != "Address not found in transaction graph" {
		t.Errorf("Unexpected explanation: %q", score.Explanation)
	}
}

func TestScore_MixerFactor(t *testing.T) {
	// Hub with in-degree 60 and out-degree 60: the mixer factor fires at
	// exactly 25. Degree-derived side factors (volume 120/100 = 1.2 and
	// low clustering on a star) come along; the mixer contribution itself
	// must stay pinned at its flat weight.
	g := hubGraph("mixer", 60, 60)
	s := NewScorer(nil)

	score := s.Score(context.Background(), g, map[string]float64{}, "mixer")

	if got := score.RiskFactors["potential_mixer"]; got != 25 {
		t.Errorf("Expected potential_mixer=25. Got: %f", got)
	}
	if got := score.RiskFactors["high_volume"]; math.Abs(got-1.2) > 1e-9 {
		t.Errorf("Expected high_volume=1.2 for degree 120. Got: %f", got)
	}
	if _, ok := score.RiskFactors["double_spend"]; ok {
		t.Error("No oracle configured, double_spend must not fire")
	}
	if !strings.Contains(score.Explanation, "mixing service") {
		t.Errorf("Expected mixer phrase in explanation. Got: %q", score.Explanation)
	}
}

func TestScore_MixerThresholdIsStrict(t *testing.T) {
	// in=50/out=50 does NOT cross the strict > 50 threshold.
	g := hubGraph("hub", 50, 50)
	s := NewScorer(nil)

	score := s.Score(context.Background(), g, map[string]float64{}, "hub")
	if _, ok := score.RiskFactors["potential_mixer"]; ok {
		t.Errorf("Degree exactly 50 must not trigger the mixer factor. Got: %v", score.RiskFactors)
	}
}

func TestScore_CentralityCap(t *testing.T) {
	// PageRank 0.5 would contribute 750 uncapped; the factor is bounded
	// at 15 no matter the input magnitude.
	g := hubGraph("hot", 1, 1)
	s := NewScorer(nil)

	score := s.Score(context.Background(), g, map[string]float64{"hot": 0.5}, "hot")
	if got := score.RiskFactors["high_centrality"]; got != 15 {
		t.Errorf("Expected capped high_centrality=15. Got: %f", got)
	}
}

func TestScore_VolumeCap(t *testing.T) {
	// Degree 3000 would contribute 30 uncapped; bounded at 10.
	g := hubGraph("whale", 1500, 1500)
	s := NewScorer(nil)

	score := s.Score(context.Background(), g, map[string]float64{}, "whale")
	if got := score.RiskFactors["high_volume"]; got != 10 {
		t.Errorf("Expected capped high_volume=10. Got: %f", got)
	}
}

func TestScore_DoubleSpendEvidence(t *testing.T) {
	g := hubGraph("suspect", 1, 1)
	oracle := &stubOracle{evidence: map[string]models.DoubleSpendEvidence{
		"suspect": {Count: 2, TxHashes: []string{"aa", "bb"}},
	}}
	s := NewScorer(oracle)

	score := s.Score(context.Background(), g, map[string]float64{}, "suspect")
	if got := score.RiskFactors["double_spend"]; got != 45 {
		t.Errorf("Expected double_spend=45. Got: %f", got)
	}
	if !strings.HasPrefix(score.Explanation, "INVOLVED IN DOUBLE-SPEND ATTEMPT") {
		t.Errorf("Double-spend must lead the explanation. Got: %q", score.Explanation)
	}
}

func TestScore_OracleFailureDegrades(t *testing.T) {
	// An unreachable store must degrade to zero evidence, never error out.
	g := hubGraph("addr", 1, 1)
	s := NewScorer(&stubOracle{err: errors.New("connection refused")})

	score := s.Score(context.Background(), g, map[string]float64{}, "addr")
	if _, ok := score.RiskFactors["double_spend"]; ok {
		t.Errorf("Oracle failure must not fabricate evidence. Got: %v", score.RiskFactors)
	}
}

func TestScore_NoFactors(t *testing.T) {
	// A tight triangle: low degrees, clustering coefficient 1, no oracle.
	g := graph.New()
	g.AddTransaction("t1", []graph.AddressValue{av("A", 1)}, []graph.AddressValue{av("B", 1)}, time.Time{})
	g.AddTransaction("t2", []graph.AddressValue{av("B", 1)}, []graph.AddressValue{av("C", 1)}, time.Time{})
	g.AddTransaction("t3", []graph.AddressValue{av("C", 1)}, []graph.AddressValue{av("A", 1)}, time.Time{})
	s := NewScorer(nil)

	score := s.Score(context.Background(), g, map[string]float64{}, "A")
	if score.Score != 0 {
		t.Errorf("Expected clean address score 0. Got: %f (%v)", score.Score, score.RiskFactors)
	}
	if score.Explanation != "No significant risk factors detected" {
		t.Errorf("Unexpected explanation: %q", score.Explanation)
	}
}

func TestSweepHighRisk_OrdersAndBounds(t *testing.T) {
	g := hubGraph("mixer", 60, 60)
	oracle := &stubOracle{evidence: map[string]models.DoubleSpendEvidence{
		"in000": {Count: 1, TxHashes: []string{"dd"}},
	}}
	s := NewScorer(oracle)

	scores := s.SweepHighRisk(context.Background(), g, map[string]float64{}, []string{"in000", "not-in-graph"}, 5)

	if len(scores) == 0 || len(scores) > 5 {
		t.Fatalf("Expected between 1 and 5 results. Got: %d", len(scores))
	}
	for i := 1; i < len(scores); i++ {
		if scores[i].Score > scores[i-1].Score {
			t.Errorf("Results not sorted by descending score: %v", scores)
		}
	}
	// The flagged double-spender (45+5) must outrank the mixer (25+1.2+5).
	if scores[0].Address != "in000" {
		t.Errorf("Expected flagged address first. Got: %s (%f)", scores[0].Address, scores[0].Score)
	}
}
