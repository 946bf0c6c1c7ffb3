package redeem

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vaultbridge/redeemer/internal/metrics"
	"github.com/vaultbridge/redeemer/pkg/types"
)

func allocation(entries ...types.AllocationEntry) types.Allocation {
	return types.Allocation(entries)
}

func entry(addr common.Address, amount int64) types.AllocationEntry {
	return types.AllocationEntry{Provider: addr, Amount: big.NewInt(amount)}
}

func TestBatchSubmit_Atomic(t *testing.T) {
	ledger := newFakeLedger()
	b := NewBatchSubmitter(ledger, ledger, metrics.New())

	alloc := allocation(entry(testProviderA, 100), entry(testProviderB, 50))
	results, err := b.Submit(context.Background(), alloc, testDestination, true)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if ledger.batchCount() != 1 {
		t.Fatalf("expected exactly one transaction, got %d", ledger.batchCount())
	}
	if len(results) != len(alloc) {
		t.Fatalf("expected %d results, got %d", len(alloc), len(results))
	}
	for _, r := range results {
		if r.Request == nil || r.Request.ID != r.ID {
			t.Errorf("result record does not match id: %+v", r)
		}
		if r.Request.Destination != testDestination {
			t.Errorf("expected destination %s, got %s", testDestination, r.Request.Destination)
		}
	}
}

func TestBatchSubmit_AtomicFailureReturnsNoResults(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failing[testProviderB] = true
	b := NewBatchSubmitter(ledger, ledger, nil)

	results, err := b.Submit(context.Background(), allocation(entry(testProviderA, 100), entry(testProviderB, 50)), testDestination, true)
	if results != nil {
		t.Errorf("expected zero results, got %d", len(results))
	}

	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected *SubmissionError, got %v", err)
	}
	if subErr.Op != OpRequestRedeemBatch {
		t.Errorf("expected op %s, got %s", OpRequestRedeemBatch, subErr.Op)
	}
	if errors.Unwrap(err) != errReverted {
		t.Errorf("expected the ledger error verbatim, got %v", errors.Unwrap(err))
	}
}

func TestBatchSubmit_NonAtomicPartial(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failing[testProviderB] = true
	b := NewBatchSubmitter(ledger, ledger, nil)

	alloc := allocation(entry(testProviderA, 10), entry(testProviderB, 20), entry(testProviderC, 30))
	results, err := b.Submit(context.Background(), alloc, testDestination, false)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 created sub-requests, got %d", len(results))
	}

	providers := map[common.Address]bool{}
	for _, r := range results {
		providers[r.Request.Provider] = true
	}
	if !providers[testProviderA] || !providers[testProviderC] || providers[testProviderB] {
		t.Errorf("unexpected providers in results: %v", providers)
	}
}

func TestBatchSubmit_OrderFollowsReceipt(t *testing.T) {
	ledger := newFakeLedger()
	ledger.tamper = func(events []types.LedgerEvent) []types.LedgerEvent {
		out := make([]types.LedgerEvent, len(events))
		for i := range events {
			out[i] = events[len(events)-1-i]
		}
		return out
	}
	b := NewBatchSubmitter(ledger, ledger, nil)

	results, err := b.Submit(context.Background(), allocation(entry(testProviderA, 1), entry(testProviderB, 2)), testDestination, false)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(results) != 2 || results[0].Request.Provider != testProviderB {
		t.Errorf("expected receipt order to be kept, got %+v", results)
	}
}

func TestBatchSubmit_CorrelationMismatch(t *testing.T) {
	tests := []struct {
		name   string
		atomic bool
		tamper func([]types.LedgerEvent) []types.LedgerEvent
		event  types.EventKind
		want   int
		got    int
	}{
		{
			name:   "missing event",
			tamper: func(ev []types.LedgerEvent) []types.LedgerEvent { return ev[:1] },
			event:  types.EventRequestRedeem,
			want:   2,
			got:    1,
		},
		{
			name:   "extra event",
			tamper: func(ev []types.LedgerEvent) []types.LedgerEvent { return append(ev, ev[0]) },
			event:  types.EventRequestRedeem,
			want:   2,
			got:    3,
		},
		{
			name: "duplicate id",
			tamper: func(ev []types.LedgerEvent) []types.LedgerEvent {
				ev[1].RequestID = ev[0].RequestID
				return ev
			},
			event: types.EventRequestRedeem,
			want:  2,
			got:   2,
		},
		{
			name:   "no events",
			tamper: func([]types.LedgerEvent) []types.LedgerEvent { return nil },
			event:  types.EventRequestRedeem,
			want:   2,
			got:    0,
		},
		{
			name:   "item failure in atomic batch",
			atomic: true,
			tamper: func(ev []types.LedgerEvent) []types.LedgerEvent {
				return append(ev, types.LedgerEvent{Kind: types.EventBatchItemFailed})
			},
			event: types.EventBatchItemFailed,
			want:  0,
			got:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger()
			ledger.tamper = tt.tamper
			b := NewBatchSubmitter(ledger, ledger, nil)

			results, err := b.Submit(context.Background(), allocation(entry(testProviderA, 1), entry(testProviderB, 2)), testDestination, tt.atomic)
			if results != nil {
				t.Errorf("expected no results, got %d", len(results))
			}
			if !errors.Is(err, ErrCorrelation) {
				t.Fatalf("expected ErrCorrelation, got %v", err)
			}
			var corrErr *CorrelationError
			if !errors.As(err, &corrErr) {
				t.Fatalf("expected *CorrelationError, got %T", err)
			}
			if corrErr.Event != tt.event || corrErr.Want != tt.want || corrErr.Got != tt.got {
				t.Errorf("unexpected correlation error: %+v", corrErr)
			}
		})
	}
}

func TestBatchSubmit_RecordFetchError(t *testing.T) {
	ledger := newFakeLedger()
	ledger.tamper = func(ev []types.LedgerEvent) []types.LedgerEvent {
		ev[0].RequestID = common.HexToHash("0xdead")
		return ev
	}
	b := NewBatchSubmitter(ledger, ledger, nil)

	_, err := b.Submit(context.Background(), allocation(entry(testProviderA, 1)), testDestination, false)
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if isSubmissionError(err) {
		t.Error("fetch failure must not be reported as a submission error")
	}
}

func TestBatchSubmit_EmptyAllocation(t *testing.T) {
	ledger := newFakeLedger()
	b := NewBatchSubmitter(ledger, ledger, nil)

	if _, err := b.Submit(context.Background(), nil, testDestination, false); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if ledger.batchCount() != 0 {
		t.Error("empty allocation must not broadcast")
	}
}

// Recovered ids match non-zero entries when atomic and successful entries otherwise.
func TestBatchSubmit_RoundTripMultiplicity(t *testing.T) {
	providers := []types.Provider{
		provider(testProviderA, 7),
		provider(testProviderB, 0),
		provider(testProviderC, 13),
		provider(testOther, 100),
	}

	for _, atomic := range []bool{true, false} {
		ledger := newFakeLedger()
		if !atomic {
			ledger.failing[testProviderC] = true
		}
		b := NewBatchSubmitter(ledger, ledger, nil)

		alloc, err := Allocate(big.NewInt(50), providers)
		if err != nil {
			t.Fatal(err)
		}

		results, err := b.Submit(context.Background(), alloc, testDestination, atomic)
		if err != nil {
			t.Fatalf("atomic=%v: Submit failed: %v", atomic, err)
		}

		want := len(alloc)
		if !atomic {
			want--
		}
		if len(results) != want {
			t.Errorf("atomic=%v: expected %d ids, got %d", atomic, want, len(results))
		}
	}
}
