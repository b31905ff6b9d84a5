/*
This file implements the deterministic UTXO selection for a funding request.

Policy: greedy descending-value selection until the running sum covers
(target + estimated fee). The fee is recomputed as inputs are added, so the
selection and the fee the builder will pay agree on the same estimate.
*/
package utxo

import (
	"errors"
	"sort"
)

const (
	// DustThreshold is the smallest change value worth creating an output for.
	// Anything below is folded into the fee.
	DustThreshold = int64(546)

	// DefaultFeePerKB is the fallback fee rate (smallest unit per started KB).
	DefaultFeePerKB = int64(1000)

	// Conservative legacy sizing used for fee estimation.
	txOverheadSize = 10
	txInputSize    = 148
	txOutputSize   = 34
)

var ErrInsufficientFunds = errors.New("insufficient funds to cover amount plus fee")

// Selection is the immutable outcome of a successful UTXO selection.
type Selection struct {
	UTXOs  []*UTXO // chosen inputs, descending by value
	Total  int64   // sum of chosen input values
	Fee    int64   // estimated fee the builder must pay
	Change int64   // 0 means no change output (excess folded into fee)
}

// EstimateTxSize returns the estimated serialized size in bytes of a
// transaction with the given input/output counts.
func EstimateTxSize(numInputs, numOutputs int) int64 {
	return int64(txOverheadSize + numInputs*txInputSize + numOutputs*txOutputSize)
}

// EstimateFee computes the deterministic fee for a transaction of the given
// shape: feePerKB per started kilobyte of estimated size.
func EstimateFee(numInputs, numOutputs int, feePerKB int64) int64 {
	size := EstimateTxSize(numInputs, numOutputs)
	return ((size + 999) / 1000) * feePerKB
}

// Select chooses a minimal-cardinality subset of candidates whose sum covers
// (amount + fee). Candidates are visited in descending value order (ties
// broken on txid:vout) so the same inputs always produce the same selection.
// Returns ErrInsufficientFunds if no subset suffices.
func Select(candidates []*UTXO, amount int64, feePerKB int64) (*Selection, error) {
	if feePerKB <= 0 {
		feePerKB = DefaultFeePerKB
	}

	sorted := make([]*UTXO, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Amount != sorted[j].Amount {
			return sorted[i].Amount > sorted[j].Amount
		}
		return sorted[i].OutpointKey() < sorted[j].OutpointKey()
	})

	var sum int64
	chosen := []*UTXO{}
	for _, item := range sorted {
		chosen = append(chosen, item)
		sum += item.Amount

		// Fee assumes a change output; if change turns out to be dust the
		// excess goes to the fee instead, which only over-pays by < dust.
		fee := EstimateFee(len(chosen), 2, feePerKB)
		if sum >= amount+fee {
			sel := &Selection{
				UTXOs: chosen,
				Total: sum,
				Fee:   fee,
			}
			excess := sum - amount - fee
			if excess >= DustThreshold {
				sel.Change = excess
			} else {
				sel.Fee += excess
			}
			return sel, nil
		}
	}

	return nil, ErrInsufficientFunds
}
