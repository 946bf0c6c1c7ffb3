package redeem

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vaultbridge/redeemer/pkg/types"
)

var (
	testUser      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testOther     = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	testProviderA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	testProviderB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	testProviderC = common.HexToAddress("0x000000000000000000000000000000000000000c")

	testDestination = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"

	errReverted = errors.New("execution reverted: vault below collateral threshold")
)

// fakeLedger is an in-memory ledger and submitter.
type fakeLedger struct {
	mu sync.Mutex

	requests map[common.Hash]*types.RedeemRequest
	order    []common.Hash
	nextID   int64

	signer    common.Address
	hasSigner bool

	period uint64
	height uint64

	failing    map[common.Address]bool // providers whose sub-requests fail
	confirmCap *big.Int                // max amount confirmed per sub-request; nil = no cap
	submitErr  error
	readErr    error

	// tamper rewrites emitted events before they are returned
	tamper func([]types.LedgerEvent) []types.LedgerEvent

	executeEvents func(id common.Hash) []types.LedgerEvent
	executeErr    error

	batches   [][]types.RedeemCall
	executed  []common.Hash
	readCalls int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		requests:  make(map[common.Hash]*types.RedeemRequest),
		failing:   make(map[common.Address]bool),
		signer:    testUser,
		hasSigner: true,
		period:    10,
		height:    1,
	}
}

func (f *fakeLedger) addRequest(r *types.RedeemRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[r.ID] = r
	f.order = append(f.order, r.ID)
}

func (f *fakeLedger) setReadErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

func (f *fakeLedger) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeLedger) RequestRedeemBatch(ctx context.Context, calls []types.RedeemCall, atomic bool) ([]types.LedgerEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batches = append(f.batches, calls)
	if f.submitErr != nil {
		return nil, f.submitErr
	}

	if atomic {
		for _, c := range calls {
			if f.failing[c.Provider] {
				return nil, errReverted
			}
		}
	}

	var events []types.LedgerEvent
	for i, c := range calls {
		if f.failing[c.Provider] {
			events = append(events, types.LedgerEvent{
				Kind:     types.EventBatchItemFailed,
				Index:    uint64(i),
				Provider: c.Provider,
				Reason:   "vault below collateral threshold",
			})
			continue
		}

		amount := new(big.Int).Set(c.Amount)
		if f.confirmCap != nil && amount.Cmp(f.confirmCap) > 0 {
			amount.Set(f.confirmCap)
		}

		f.nextID++
		id := common.BigToHash(big.NewInt(f.nextID))
		req := &types.RedeemRequest{
			ID:          id,
			Requester:   f.signer,
			Provider:    c.Provider,
			Amount:      amount,
			Destination: c.Destination,
			OpenHeight:  f.height,
			Period:      f.period,
			Status:      types.ChainStatusPending,
		}
		f.requests[id] = req
		f.order = append(f.order, id)
		events = append(events, types.LedgerEvent{
			Kind:      types.EventRequestRedeem,
			RequestID: id,
			Requester: f.signer,
			Provider:  c.Provider,
			Amount:    amount,
		})
	}

	if f.tamper != nil {
		events = f.tamper(events)
	}
	return events, nil
}

func (f *fakeLedger) ExecuteRedeem(ctx context.Context, id common.Hash, proof *types.PaymentProof) ([]types.LedgerEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.executed = append(f.executed, id)
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	if f.executeEvents != nil {
		return f.executeEvents(id), nil
	}
	if r, ok := f.requests[id]; ok {
		r.Status = types.ChainStatusCompleted
	}
	return []types.LedgerEvent{{Kind: types.EventExecuteRedeem, RequestID: id}}, nil
}

func (f *fakeLedger) Signer() (common.Address, bool) {
	return f.signer, f.hasSigner
}

func (f *fakeLedger) ListRequests(ctx context.Context) ([]*types.RedeemRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([]*types.RedeemRequest, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.requests[id].Copy())
	}
	return out, nil
}

func (f *fakeLedger) RequestsFor(ctx context.Context, account common.Address) ([]*types.RedeemRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	if f.readErr != nil {
		return nil, f.readErr
	}
	var out []*types.RedeemRequest
	for _, id := range f.order {
		if r := f.requests[id]; r.Requester == account {
			out = append(out, r.Copy())
		}
	}
	return out, nil
}

func (f *fakeLedger) GetRequest(ctx context.Context, id common.Hash) (*types.RedeemRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	if f.readErr != nil {
		return nil, f.readErr
	}
	r, ok := f.requests[id]
	if !ok {
		return nil, errors.New("redeem request not found")
	}
	return r.Copy(), nil
}

func (f *fakeLedger) RedeemPeriod(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.period, nil
}

func (f *fakeLedger) FinalizedHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.height, nil
}

// fakeProviders returns a fixed provider list and counts discoveries.
type fakeProviders struct {
	mu        sync.Mutex
	providers []types.Provider
	err       error
	calls     int
}

func (f *fakeProviders) AvailableProviders(ctx context.Context) ([]types.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]types.Provider, len(f.providers))
	copy(out, f.providers)
	return out, nil
}

// fakeProofs resolves any tx id to a fixed proof.
type fakeProofs struct {
	err error
}

func (f *fakeProofs) Resolve(ctx context.Context, ref types.PaymentRef) (*types.PaymentProof, error) {
	if f.err != nil {
		return nil, f.err
	}
	if ref.HasExplicitProof() {
		return &types.PaymentProof{MerkleProof: ref.MerkleProof, RawTx: ref.RawTx}, nil
	}
	return &types.PaymentProof{MerkleProof: []byte{0x01}, RawTx: []byte{0x02}}, nil
}

// fakeHeads lets tests push finalized heights by hand.
type fakeHeads struct {
	mu       sync.Mutex
	handlers map[int]func(uint64)
	next     int
	err      error
}

func newFakeHeads() *fakeHeads {
	return &fakeHeads{handlers: make(map[int]func(uint64))}
}

func (f *fakeHeads) SubscribeFinalizedHeads(ctx context.Context, handler func(uint64)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	id := f.next
	f.next++
	f.handlers[id] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}, nil
}

func (f *fakeHeads) emit(height uint64) {
	f.mu.Lock()
	handlers := make([]func(uint64), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(height)
	}
}

func (f *fakeHeads) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

type rejectAll struct{}

func (rejectAll) ValidateDestination(string) error { return errors.New("unsupported address") }

func provider(addr common.Address, capacity int64) types.Provider {
	return types.Provider{ID: addr, Capacity: big.NewInt(capacity)}
}
