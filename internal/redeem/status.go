package redeem

import "github.com/vaultbridge/redeemer/pkg/types"

// StatusInput is the part of a redeem request that status derivation reads.
type StatusInput struct {
	Tag        types.ChainStatus
	OpenHeight uint64
	Period     uint64
}

// StatusInputOf extracts the status-relevant fields of a request.
func StatusInputOf(r *types.RedeemRequest) StatusInput {
	return StatusInput{Tag: r.Status, OpenHeight: r.OpenHeight, Period: r.Period}
}

// ResolveStatus classifies a request at currentHeight.
//
// Completed, reimbursed and retried requests keep their tag regardless of
// height. A pending request expires once currentHeight reaches
// openHeight + max(period, globalPeriod): raising the global period extends
// the window of requests already open, and lowering it never shrinks one.
func ResolveStatus(in StatusInput, globalPeriod, currentHeight uint64) types.Status {
	switch in.Tag {
	case types.ChainStatusCompleted:
		return types.StatusCompleted
	case types.ChainStatusReimbursed:
		return types.StatusReimbursed
	case types.ChainStatusRetried:
		return types.StatusRetried
	}

	period := max(in.Period, globalPeriod)
	if currentHeight >= deadline(in.OpenHeight, period) {
		return types.StatusExpired
	}
	return types.StatusPendingWithProofNotFound
}

// deadline saturates instead of wrapping.
func deadline(openHeight, period uint64) uint64 {
	d := openHeight + period
	if d < openHeight {
		return ^uint64(0)
	}
	return d
}
