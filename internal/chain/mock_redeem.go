package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vaultbridge/redeemer/internal/util"
	"github.com/vaultbridge/redeemer/pkg/types"
)

// DefaultMockSigner is the account a mock contract sends transactions from
var DefaultMockSigner = common.HexToAddress("0x5eD0000000000000000000000000000000000001")

const defaultMockRedeemPeriod = 100

// mockLedger is the in-memory state behind a mock RedeemContract
type mockLedger struct {
	mu sync.RWMutex

	signer    common.Address
	hasSigner bool

	capacities    map[common.Address]*big.Int
	providerOrder []common.Address
	failing       map[common.Address]string
	confirmCap    *big.Int

	requests map[common.Hash]*types.RedeemRequest
	order    []common.Hash
	nonce    uint64

	period uint64
	height uint64

	headSubs map[int]func(uint64)
	nextSub  int
}

// NewMockRedeemContract creates a mock redeem contract for testing and for
// running without a ledger. It starts at height 1 with no providers.
func NewMockRedeemContract() *RedeemContract {
	return &RedeemContract{
		mockMode: true,
		mock: &mockLedger{
			signer:     DefaultMockSigner,
			hasSigner:  true,
			capacities: make(map[common.Address]*big.Int),
			failing:    make(map[common.Address]string),
			requests:   make(map[common.Hash]*types.RedeemRequest),
			period:     defaultMockRedeemPeriod,
			height:     1,
			headSubs:   make(map[int]func(uint64)),
		},
	}
}

// MockSetSigner sets the signing account; ok=false makes the mock read-only.
func (rc *RedeemContract) MockSetSigner(addr common.Address, ok bool) {
	if !rc.mockMode {
		return
	}
	rc.mock.mu.Lock()
	defer rc.mock.mu.Unlock()
	rc.mock.signer = addr
	rc.mock.hasSigner = ok
}

// MockSetProvider sets a provider's free capacity. New providers are ranked
// after existing ones with equal capacity.
func (rc *RedeemContract) MockSetProvider(addr common.Address, capacity *big.Int) {
	if !rc.mockMode {
		return
	}
	rc.mock.mu.Lock()
	defer rc.mock.mu.Unlock()
	if _, exists := rc.mock.capacities[addr]; !exists {
		rc.mock.providerOrder = append(rc.mock.providerOrder, addr)
	}
	rc.mock.capacities[addr] = new(big.Int).Set(capacity)
}

// MockSetFailing makes every sub-request to addr fail with reason. An empty
// reason clears the failure.
func (rc *RedeemContract) MockSetFailing(addr common.Address, reason string) {
	if !rc.mockMode {
		return
	}
	rc.mock.mu.Lock()
	defer rc.mock.mu.Unlock()
	if reason == "" {
		delete(rc.mock.failing, addr)
		return
	}
	rc.mock.failing[addr] = reason
}

// MockSetConfirmCap limits the amount confirmed for any single sub-request.
// nil removes the limit.
func (rc *RedeemContract) MockSetConfirmCap(limit *big.Int) {
	if !rc.mockMode {
		return
	}
	rc.mock.mu.Lock()
	defer rc.mock.mu.Unlock()
	if limit == nil {
		rc.mock.confirmCap = nil
		return
	}
	rc.mock.confirmCap = new(big.Int).Set(limit)
}

// MockSetRedeemPeriod sets the module-wide redeem period.
func (rc *RedeemContract) MockSetRedeemPeriod(period uint64) {
	if !rc.mockMode {
		return
	}
	rc.mock.mu.Lock()
	defer rc.mock.mu.Unlock()
	rc.mock.period = period
}

// MockSetStatus overrides the chain status of a request.
func (rc *RedeemContract) MockSetStatus(id common.Hash, status types.ChainStatus) error {
	if !rc.mockMode {
		return fmt.Errorf("not in mock mode")
	}
	rc.mock.mu.Lock()
	defer rc.mock.mu.Unlock()
	req, ok := rc.mock.requests[id]
	if !ok {
		return fmt.Errorf("redeem request %s not found", id.Hex())
	}
	req.Status = status
	return nil
}

// MockAdvanceHeight moves the finalized height forward by n and notifies
// head subscribers. It returns the new height.
func (rc *RedeemContract) MockAdvanceHeight(n uint64) uint64 {
	if !rc.mockMode {
		return 0
	}
	m := rc.mock

	m.mu.Lock()
	m.height += n
	height := m.height
	handlers := make([]func(uint64), 0, len(m.headSubs))
	for _, h := range m.headSubs {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(height)
	}
	return height
}

// MockAutoMine advances the height by one every interval until ctx is done.
func (rc *RedeemContract) MockAutoMine(ctx context.Context, interval time.Duration) {
	if !rc.mockMode {
		return
	}
	util.SafeGoWithName("mock-miner", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rc.MockAdvanceHeight(1)
			}
		}
	})
}

func (m *mockLedger) providerList() []types.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Provider, 0, len(m.providerOrder))
	for _, addr := range m.providerOrder {
		out = append(out, types.Provider{ID: addr, Capacity: new(big.Int).Set(m.capacities[addr])})
	}
	return out
}

// requestRedeemBatch applies calls in order against a staged copy of the
// ledger. Nothing is committed until every call has been processed, so a
// reverted atomic batch leaves capacities, requests and the nonce unchanged.
func (m *mockLedger) requestRedeemBatch(calls []types.RedeemCall, atomic bool) ([]types.LedgerEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasSigner {
		return nil, ErrNoPrivateKey
	}
	if len(calls) == 0 {
		return nil, fmt.Errorf("execution reverted: empty batch")
	}

	remaining := make(map[common.Address]*big.Int, len(m.capacities))
	for addr, c := range m.capacities {
		remaining[addr] = new(big.Int).Set(c)
	}
	nonce := m.nonce
	var created []*types.RedeemRequest

	var events []types.LedgerEvent
	for i, c := range calls {
		confirmed, reason := m.check(remaining, c)
		if reason != "" {
			if atomic {
				return nil, fmt.Errorf("execution reverted: call %d: %s", i, reason)
			}
			events = append(events, types.LedgerEvent{
				Kind:     types.EventBatchItemFailed,
				Index:    uint64(i),
				Provider: c.Provider,
				Reason:   reason,
			})
			continue
		}

		remaining[c.Provider].Sub(remaining[c.Provider], confirmed)

		nonce++
		id := crypto.Keccak256Hash(m.signer.Bytes(), new(big.Int).SetUint64(nonce).Bytes())
		created = append(created, &types.RedeemRequest{
			ID:          id,
			Requester:   m.signer,
			Provider:    c.Provider,
			Amount:      confirmed,
			Fee:         new(big.Int),
			TransferFee: new(big.Int),
			Premium:     new(big.Int),
			Destination: c.Destination,
			OpenHeight:  m.height,
			Period:      m.period,
			Status:      types.ChainStatusPending,
		})

		events = append(events, types.LedgerEvent{
			Kind:      types.EventRequestRedeem,
			RequestID: id,
			Requester: m.signer,
			Provider:  c.Provider,
			Amount:    new(big.Int).Set(confirmed),
		})
	}

	for _, req := range created {
		m.requests[req.ID] = req
		m.order = append(m.order, req.ID)
	}
	m.nonce = nonce
	m.capacities = remaining
	return events, nil
}

// check returns the amount the ledger would confirm for c, or a failure reason.
func (m *mockLedger) check(remaining map[common.Address]*big.Int, c types.RedeemCall) (*big.Int, string) {
	if reason, ok := m.failing[c.Provider]; ok {
		return nil, reason
	}
	if c.Amount == nil || c.Amount.Sign() <= 0 {
		return nil, "amount must be positive"
	}
	free, ok := remaining[c.Provider]
	if !ok {
		return nil, "unknown provider"
	}
	if free.Cmp(c.Amount) < 0 {
		return nil, "insufficient provider capacity"
	}

	confirmed := new(big.Int).Set(c.Amount)
	if m.confirmCap != nil && confirmed.Cmp(m.confirmCap) > 0 {
		confirmed.Set(m.confirmCap)
	}
	return confirmed, ""
}

func (m *mockLedger) executeRedeem(id common.Hash, proof *types.PaymentProof) ([]types.LedgerEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasSigner {
		return nil, ErrNoPrivateKey
	}
	req, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("execution reverted: unknown redeem request")
	}
	if req.Status != types.ChainStatusPending {
		return nil, fmt.Errorf("execution reverted: redeem request is %s", req.Status)
	}
	if len(proof.MerkleProof) == 0 || len(proof.RawTx) == 0 {
		return nil, fmt.Errorf("execution reverted: invalid payment proof")
	}
	if m.height >= req.OpenHeight+max(req.Period, m.period) {
		return nil, fmt.Errorf("execution reverted: redeem period expired")
	}

	req.Status = types.ChainStatusCompleted
	return []types.LedgerEvent{{
		Kind:      types.EventExecuteRedeem,
		RequestID: id,
		Requester: req.Requester,
		Provider:  req.Provider,
		Amount:    new(big.Int).Set(req.Amount),
	}}, nil
}

func (m *mockLedger) listRequests(account *common.Address) []*types.RedeemRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.RedeemRequest
	for _, id := range m.order {
		req := m.requests[id]
		if account != nil && req.Requester != *account {
			continue
		}
		out = append(out, req.Copy())
	}
	return out
}

func (m *mockLedger) getRequest(id common.Hash) (*types.RedeemRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("redeem request %s not found", id.Hex())
	}
	return req.Copy(), nil
}

func (m *mockLedger) redeemPeriod() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.period
}

func (m *mockLedger) currentHeight() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.height
}

func (m *mockLedger) subscribeHeads(handler func(uint64)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.headSubs[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.headSubs, id)
		})
	}
}
