package graph

import (
	"time"

	"github.com/rawblock/txgraph-engine/pkg/models"
)

// Graph Builder
//
// The ledger feed produces one row per (input, output) pairing, so a
// transaction with 3 inputs and 2 outputs arrives as 6 rows. The builder
// regroups rows by transaction hash, collapses duplicate (address, value)
// pairs on each side (a repeated identical pair from a duplicated join row
// is one observation, not two), and folds each complete transaction into
// the graph.
//
// Transactions that end up with an empty input or output set are dropped
// silently: the join legitimately produces partial rows while the observer
// is still filling in prevouts, and an incomplete transaction is a normal,
// frequent occurrence rather than an error.

type pendingTx struct {
	hash      string
	inputs    map[AddressValue]struct{}
	outputs   map[AddressValue]struct{}
	firstSeen time.Time
}

// BuildFromRows constructs a fresh graph from raw feed rows.
func BuildFromRows(rows []models.FlowRow) *Graph {
	// Group rows by transaction, preserving first-appearance order so that
	// edge provenance (first_tx) is stable for a given feed ordering.
	byHash := make(map[string]*pendingTx)
	order := make([]*pendingTx, 0)

	for _, row := range rows {
		tx, ok := byHash[row.TxHash]
		if !ok {
			tx = &pendingTx{
				hash:    row.TxHash,
				inputs:  make(map[AddressValue]struct{}),
				outputs: make(map[AddressValue]struct{}),
			}
			if row.FirstSeenAt != nil {
				tx.firstSeen = *row.FirstSeenAt
			}
			byHash[row.TxHash] = tx
			order = append(order, tx)
		}
		if row.InputAddress != "" {
			tx.inputs[AddressValue{Address: row.InputAddress, Value: row.InputValue}] = struct{}{}
		}
		if row.OutputAddress != "" {
			tx.outputs[AddressValue{Address: row.OutputAddress, Value: row.OutputValue}] = struct{}{}
		}
	}

	g := New()
	for _, tx := range order {
		if len(tx.inputs) == 0 || len(tx.outputs) == 0 {
			continue // incomplete join, skip without counting as degenerate
		}
		g.AddTransaction(tx.hash, setToSlice(tx.inputs), setToSlice(tx.outputs), tx.firstSeen)
	}
	return g
}

func setToSlice(set map[AddressValue]struct{}) []AddressValue {
	out := make([]AddressValue, 0, len(set))
	for av := range set {
		out = append(out, av)
	}
	return out
}
