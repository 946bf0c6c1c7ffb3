package redeem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vaultbridge/redeemer/internal/logging"
	"github.com/vaultbridge/redeemer/internal/metrics"
	"github.com/vaultbridge/redeemer/pkg/types"
)

// Ledger operations reported in SubmissionError.Op and metrics labels.
const (
	OpRequestRedeemBatch = "requestRedeemBatch"
	OpExecuteRedeem      = "executeRedeem"
)

// BatchSubmitter turns an allocation into sub-requests, submits them in one
// transaction and recovers the created requests from the receipt.
type BatchSubmitter struct {
	submitter Submitter
	ledger    Ledger
	metrics   *metrics.RedeemMetrics
}

// NewBatchSubmitter creates a batch submitter. m may be nil.
func NewBatchSubmitter(submitter Submitter, ledger Ledger, m *metrics.RedeemMetrics) *BatchSubmitter {
	return &BatchSubmitter{
		submitter: submitter,
		ledger:    ledger,
		metrics:   m,
	}
}

// Submit broadcasts exactly one transaction carrying one sub-request per
// allocation entry.
//
// With atomic set, any failing entry reverts the whole transaction and the
// ledger's error is returned. Otherwise entries apply independently and the
// returned results cover only those that were created; their order follows
// the receipt, not the allocation. Ledger rejections are returned as
// *SubmissionError and are never retried here.
func (b *BatchSubmitter) Submit(ctx context.Context, alloc types.Allocation, destination string, atomic bool) ([]types.RedeemResult, error) {
	if len(alloc) == 0 {
		return nil, fmt.Errorf("empty allocation: %w", ErrInvalidAmount)
	}

	calls := make([]types.RedeemCall, len(alloc))
	for i, e := range alloc {
		calls[i] = types.RedeemCall{
			Provider:    e.Provider,
			Amount:      e.Amount,
			Destination: destination,
		}
	}

	start := time.Now()
	events, err := b.submitter.RequestRedeemBatch(ctx, calls, atomic)
	b.metrics.ObserveSubmission(OpRequestRedeemBatch, time.Since(start))
	if err != nil {
		b.metrics.RecordSubmissionError(OpRequestRedeemBatch)
		return nil, &SubmissionError{Op: OpRequestRedeemBatch, Err: err}
	}

	failed := countEvents(events, types.EventBatchItemFailed)
	if atomic && failed > 0 {
		return nil, &CorrelationError{Event: types.EventBatchItemFailed, Want: 0, Got: failed}
	}
	for _, ev := range events {
		if ev.Kind == types.EventBatchItemFailed {
			logging.Warn("batch item failed",
				"index", ev.Index,
				logging.Provider(providerAt(calls, ev.Index)),
				"reason", ev.Reason)
		}
	}

	ids, err := decodeCreated(events, len(calls)-failed)
	if err != nil {
		return nil, err
	}

	results := make([]types.RedeemResult, 0, len(ids))
	for _, id := range ids {
		req, err := b.ledger.GetRequest(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch redeem request %s: %w", id.Hex(), err)
		}
		results = append(results, types.RedeemResult{ID: id, Request: req})
	}

	return results, nil
}

// decodeCreated extracts the ids of created requests from a receipt. Exactly
// expected distinct RequestRedeem events must be present. Every event counts
// toward got, but a repeated id is kept in ids only once, so a duplicate is
// reported as a CorrelationError even when got matches expected.
func decodeCreated(events []types.LedgerEvent, expected int) ([]common.Hash, error) {
	seen := make(map[common.Hash]struct{}, expected)
	ids := make([]common.Hash, 0, expected)
	got := 0
	for _, ev := range events {
		if ev.Kind != types.EventRequestRedeem {
			continue
		}
		got++
		if _, dup := seen[ev.RequestID]; dup {
			continue
		}
		seen[ev.RequestID] = struct{}{}
		ids = append(ids, ev.RequestID)
	}

	if got != expected || len(ids) != expected {
		return nil, &CorrelationError{Event: types.EventRequestRedeem, Want: expected, Got: got}
	}
	return ids, nil
}

// expectOne returns the single event of kind for id.
func expectOne(events []types.LedgerEvent, kind types.EventKind, id common.Hash) (types.LedgerEvent, error) {
	var match []types.LedgerEvent
	for _, ev := range events {
		if ev.Kind == kind && ev.RequestID == id {
			match = append(match, ev)
		}
	}
	if len(match) != 1 {
		return types.LedgerEvent{}, &CorrelationError{Event: kind, Want: 1, Got: len(match)}
	}
	return match[0], nil
}

func countEvents(events []types.LedgerEvent, kind types.EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func providerAt(calls []types.RedeemCall, index uint64) string {
	if index >= uint64(len(calls)) {
		return ""
	}
	return calls[index].Provider.Hex()
}

// isSubmissionError reports whether err came from a ledger rejection.
func isSubmissionError(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se)
}
