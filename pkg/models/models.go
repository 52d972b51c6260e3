package models

import "time"

// FlowRow is one row of the observer's flow join: a single (input, output)
// pairing of a transaction, denormalized by the store. Rows with a NULL
// address on either side are filtered out before they reach the builder.
type FlowRow struct {
	TxHash        string     `json:"txHash"`
	InputAddress  string     `json:"inputAddress"`
	InputValue    int64      `json:"inputValue"` // in Satoshis
	OutputAddress string     `json:"outputAddress"`
	OutputValue   int64      `json:"outputValue"` // in Satoshis
	FirstSeenAt   *time.Time `json:"firstSeenAt,omitempty"`
}

// AddressMetrics holds the per-address network metrics derived from the
// current graph snapshot.
type AddressMetrics struct {
	Address               string  `json:"address"`
	InDegree              int     `json:"inDegree"`  // distinct incoming edges
	OutDegree             int     `json:"outDegree"` // distinct outgoing edges
	TotalReceived         int64   `json:"totalReceived"`
	TotalSent             int64   `json:"totalSent"`
	ClusteringCoefficient float64 `json:"clusteringCoefficient"`
}

// RiskScore is the composite risk assessment for an address. It is computed
// on demand against one snapshot and never cached.
type RiskScore struct {
	Address     string             `json:"address"`
	Score       float64            `json:"score"` // 0-100
	RiskFactors map[string]float64 `json:"riskFactors"`
	Explanation string             `json:"explanation"`
}

// DoubleSpendEvidence is the oracle's answer for one address: how many
// flagged double-spend transactions touch it, and which ones.
type DoubleSpendEvidence struct {
	Count    int      `json:"count"`
	TxHashes []string `json:"txHashes"`
}
