package metrics

import "math"

// Partition agreement metrics for community detection.
//
// Successive snapshots are rebuilt from overlapping ledger windows, so
// their community partitions should mostly agree; a sudden collapse or
// shatter of the partition between rebuilds is a strong signal that the
// ingest window shifted or the detector regressed. Agreement is measured
// over the addresses present in BOTH partitions:
//
//   ARI = (RI - Expected_RI) / (Max_RI - Expected_RI)      — 1 is perfect
//   VI  = H(C|C') + H(C'|C)                                — 0 is perfect
//
// References:
//   - Hubert & Arabie, "Comparing Partitions" (1985)
//   - Meilă, "Comparing clusterings — an information based distance" (2007)

// Agreement holds the pairwise comparison of two partitions.
type Agreement struct {
	AdjustedRandIndex      float64 `json:"adjustedRandIndex"`
	VariationOfInformation float64 `json:"variationOfInformation"`
	SharedAddresses        int     `json:"sharedAddresses"`
}

// PartitionAgreement compares two address partitions over their shared
// address set. Fewer than two shared addresses makes agreement undefined;
// the zero Agreement is returned.
func PartitionAgreement(prev, cur [][]string) Agreement {
	prevLabel := labelMap(prev)
	curLabel := labelMap(cur)

	var a, b []int
	for addr, pl := range prevLabel {
		cl, ok := curLabel[addr]
		if !ok {
			continue
		}
		a = append(a, pl)
		b = append(b, cl)
	}

	if len(a) < 2 {
		return Agreement{SharedAddresses: len(a)}
	}
	return Agreement{
		AdjustedRandIndex:      adjustedRandIndex(a, b),
		VariationOfInformation: variationOfInformation(a, b),
		SharedAddresses:        len(a),
	}
}

func labelMap(parts [][]string) map[string]int {
	labels := make(map[string]int)
	for i, members := range parts {
		for _, addr := range members {
			labels[addr] = i
		}
	}
	return labels
}

// contingency builds the n_ij matrix plus row and column sums for two
// equal-length dense label slices.
func contingency(a, b []int) (nij [][]int, rowSums, colSums []int) {
	ra, _ := renumberLabels(a)
	rb, _ := renumberLabels(b)

	rows, cols := maxLabel(ra)+1, maxLabel(rb)+1
	nij = make([][]int, rows)
	for i := range nij {
		nij[i] = make([]int, cols)
	}
	for k := range ra {
		nij[ra[k]][rb[k]]++
	}

	rowSums = make([]int, rows)
	colSums = make([]int, cols)
	for i := range nij {
		for j := range nij[i] {
			rowSums[i] += nij[i][j]
			colSums[j] += nij[i][j]
		}
	}
	return nij, rowSums, colSums
}

// adjustedRandIndex ranges from -1 (worse than chance) to 1 (identical);
// 0 is the chance baseline.
func adjustedRandIndex(a, b []int) float64 {
	n := len(a)
	nij, rowSums, colSums := contingency(a, b)

	sumNijC2 := 0.0
	for i := range nij {
		for j := range nij[i] {
			sumNijC2 += comb2(nij[i][j])
		}
	}
	sumAiC2 := 0.0
	for _, v := range rowSums {
		sumAiC2 += comb2(v)
	}
	sumBjC2 := 0.0
	for _, v := range colSums {
		sumBjC2 += comb2(v)
	}

	nC2 := comb2(n)
	if nC2 == 0 {
		return 0
	}

	expected := (sumAiC2 * sumBjC2) / nC2
	maxIndex := 0.5 * (sumAiC2 + sumBjC2)
	denom := maxIndex - expected
	if math.Abs(denom) < 1e-12 {
		return 1 // both partitions degenerate and equal
	}
	return (sumNijC2 - expected) / denom
}

// variationOfInformation is an information-theoretic distance; lower is
// better, 0 means identical partitions.
func variationOfInformation(a, b []int) float64 {
	n := len(a)
	nf := float64(n)
	nij, rowSums, colSums := contingency(a, b)

	vi := 0.0
	for i := range nij {
		for j := range nij[i] {
			if nij[i][j] == 0 {
				continue
			}
			pij := float64(nij[i][j]) / nf
			vi -= pij * math.Log2(float64(nij[i][j])/float64(colSums[j]))
			vi -= pij * math.Log2(float64(nij[i][j])/float64(rowSums[i]))
		}
	}
	return vi
}

func comb2(n int) float64 {
	if n < 2 {
		return 0
	}
	return float64(n) * float64(n-1) / 2.0
}

func renumberLabels(labels []int) ([]int, int) {
	ids := make(map[int]int)
	out := make([]int, len(labels))
	next := 0
	for i, l := range labels {
		id, ok := ids[l]
		if !ok {
			id = next
			ids[l] = id
			next++
		}
		out[i] = id
	}
	return out, next
}

func maxLabel(labels []int) int {
	max := 0
	for _, l := range labels {
		if l > max {
			max = l
		}
	}
	return max
}
