package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/vaultbridge/redeemer/internal/logging"
	"github.com/vaultbridge/redeemer/internal/util"
	"github.com/vaultbridge/redeemer/pkg/types"
)

// RedeemContract provides access to the redeem module contract. It serves
// the ledger reads, provider discovery, transaction submission and finalized
// head notifications the redeem service depends on.
type RedeemContract struct {
	client       *Client
	contract     *bind.BoundContract
	contractABI  abi.ABI
	contractAddr common.Address
	decoder      *eventDecoder
	mockMode     bool

	mock *mockLedger
}

// redeemCallArg mirrors the calls tuple of requestRedeemBatch
type redeemCallArg struct {
	Provider    common.Address
	Amount      *big.Int
	Destination string
}

// redeemRequestResult mirrors the tuple returned by getRedeemRequest
type redeemRequestResult struct {
	Requester   common.Address
	Provider    common.Address
	Amount      *big.Int
	Fee         *big.Int
	TransferFee *big.Int
	Premium     *big.Int
	Destination string
	OpenHeight  uint64
	Period      uint64
	BtcHeight   uint64
	Status      uint8
}

// NewRedeemContract creates a client for the redeem module at contractAddr
func NewRedeemContract(client *Client, contractAddr common.Address) (*RedeemContract, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client is required (use NewMockRedeemContract for testing)")
	}
	if !client.IsConnected() {
		return nil, fmt.Errorf("chain client not connected to RPC")
	}

	parsedABI, err := parseRedeemABI()
	if err != nil {
		return nil, err
	}
	decoder, err := newEventDecoder(parsedABI, contractAddr)
	if err != nil {
		return nil, err
	}

	eth := client.Client()
	return &RedeemContract{
		client:       client,
		contract:     bind.NewBoundContract(contractAddr, parsedABI, eth, eth, eth),
		contractABI:  parsedABI,
		contractAddr: contractAddr,
		decoder:      decoder,
	}, nil
}

func parseRedeemABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(RedeemModuleABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse redeem ABI: %w", err)
	}
	return parsed, nil
}

// IsMockMode returns whether running in mock mode
func (rc *RedeemContract) IsMockMode() bool {
	return rc.mockMode
}

// Signer returns the account transactions are sent from.
func (rc *RedeemContract) Signer() (common.Address, bool) {
	if rc.mockMode {
		return rc.mock.signer, rc.mock.hasSigner
	}
	return rc.client.Address(), rc.client.HasSigner()
}

// AvailableProviders returns providers with free capacity, largest first.
func (rc *RedeemContract) AvailableProviders(ctx context.Context) ([]types.Provider, error) {
	var providers []types.Provider
	if rc.mockMode {
		providers = rc.mock.providerList()
	} else {
		out, err := rc.call(ctx, &bind.CallOpts{Context: ctx}, "getProviderCapacities")
		if err != nil {
			return nil, err
		}
		if len(out) != 2 {
			return nil, fmt.Errorf("unexpected getProviderCapacities result length %d", len(out))
		}
		addrs := *abi.ConvertType(out[0], new([]common.Address)).(*[]common.Address)
		caps := *abi.ConvertType(out[1], new([]*big.Int)).(*[]*big.Int)
		if len(addrs) != len(caps) {
			return nil, fmt.Errorf("provider/capacity length mismatch: %d vs %d", len(addrs), len(caps))
		}
		for i := range addrs {
			providers = append(providers, types.Provider{ID: addrs[i], Capacity: caps[i]})
		}
	}

	return rankProviders(providers), nil
}

// rankProviders drops providers without capacity and orders the rest by
// capacity, largest first. Ties keep their ledger order.
func rankProviders(providers []types.Provider) []types.Provider {
	ranked := make([]types.Provider, 0, len(providers))
	for _, p := range providers {
		if p.Capacity != nil && p.Capacity.Sign() > 0 {
			ranked = append(ranked, p)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Capacity.Cmp(ranked[j].Capacity) > 0
	})
	return ranked
}

// RequestRedeemBatch sends all calls in one transaction and returns the
// redeem events of its receipt.
func (rc *RedeemContract) RequestRedeemBatch(ctx context.Context, calls []types.RedeemCall, atomic bool) ([]types.LedgerEvent, error) {
	if rc.mockMode {
		return rc.mock.requestRedeemBatch(calls, atomic)
	}

	args := make([]redeemCallArg, len(calls))
	for i, c := range calls {
		args[i] = redeemCallArg{Provider: c.Provider, Amount: c.Amount, Destination: c.Destination}
	}

	return rc.transact(ctx, "requestRedeemBatch", args, atomic)
}

// ExecuteRedeem completes request id with a payment proof.
func (rc *RedeemContract) ExecuteRedeem(ctx context.Context, id common.Hash, proof *types.PaymentProof) ([]types.LedgerEvent, error) {
	if proof == nil {
		return nil, fmt.Errorf("payment proof is required")
	}
	if rc.mockMode {
		return rc.mock.executeRedeem(id, proof)
	}

	return rc.transact(ctx, "executeRedeem", id, proof.MerkleProof, proof.RawTx)
}

// transact signs and sends method, waits for the receipt and decodes its
// events. Send errors are returned unwrapped.
func (rc *RedeemContract) transact(ctx context.Context, method string, args ...interface{}) ([]types.LedgerEvent, error) {
	auth, err := rc.client.TransactOpts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction options: %w", err)
	}

	tx, err := rc.contract.Transact(auth, method, args...)
	if err != nil {
		if syncErr := rc.client.SyncNonce(ctx); syncErr != nil {
			logging.Warn("failed to resync nonce", logging.Err(syncErr))
		}
		return nil, err
	}

	logging.Debug("transaction sent", "method", method, "tx", tx.Hash().Hex())

	receipt, err := rc.client.WaitForReceipt(ctx, tx)
	if err != nil {
		return nil, err
	}

	events, err := rc.decoder.decode(receipt.Logs)
	if err != nil {
		return nil, err
	}

	logging.Debug("transaction mined",
		"method", method,
		"tx", tx.Hash().Hex(),
		"block", receipt.BlockNumber.Uint64(),
		"events", len(events))
	return events, nil
}

// ListRequests returns every request at the finalized height.
func (rc *RedeemContract) ListRequests(ctx context.Context) ([]*types.RedeemRequest, error) {
	if rc.mockMode {
		return rc.mock.listRequests(nil), nil
	}

	opts, err := rc.finalizedOpts(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := rc.callIDs(ctx, opts, "getRedeemRequestIds")
	if err != nil {
		return nil, err
	}
	return rc.getRequests(ctx, opts, ids)
}

// RequestsFor returns account's requests at the finalized height.
func (rc *RedeemContract) RequestsFor(ctx context.Context, account common.Address) ([]*types.RedeemRequest, error) {
	if rc.mockMode {
		return rc.mock.listRequests(&account), nil
	}

	opts, err := rc.finalizedOpts(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := rc.callIDs(ctx, opts, "getRedeemRequestIdsFor", account)
	if err != nil {
		return nil, err
	}
	return rc.getRequests(ctx, opts, ids)
}

// GetRequest returns request id at the latest state, so that requests
// created moments ago are visible.
func (rc *RedeemContract) GetRequest(ctx context.Context, id common.Hash) (*types.RedeemRequest, error) {
	if rc.mockMode {
		return rc.mock.getRequest(id)
	}
	return rc.getRequest(ctx, &bind.CallOpts{Context: ctx}, id)
}

// RedeemPeriod returns the module-wide redeem period in blocks.
func (rc *RedeemContract) RedeemPeriod(ctx context.Context) (uint64, error) {
	if rc.mockMode {
		return rc.mock.redeemPeriod(), nil
	}

	out, err := rc.call(ctx, &bind.CallOpts{Context: ctx}, "redeemPeriod")
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("empty redeemPeriod result")
	}
	return *abi.ConvertType(out[0], new(uint64)).(*uint64), nil
}

// FinalizedHeight returns the latest finalized ledger height.
func (rc *RedeemContract) FinalizedHeight(ctx context.Context) (uint64, error) {
	if rc.mockMode {
		return rc.mock.currentHeight(), nil
	}
	return rc.client.FinalizedHeight(ctx)
}

func (rc *RedeemContract) finalizedOpts(ctx context.Context) (*bind.CallOpts, error) {
	height, err := rc.client.FinalizedHeight(ctx)
	if err != nil {
		return nil, err
	}
	return &bind.CallOpts{Context: ctx, BlockNumber: new(big.Int).SetUint64(height)}, nil
}

func (rc *RedeemContract) callIDs(ctx context.Context, opts *bind.CallOpts, method string, args ...interface{}) ([]common.Hash, error) {
	out, err := rc.call(ctx, opts, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	raw := *abi.ConvertType(out[0], new([][32]byte)).(*[][32]byte)
	ids := make([]common.Hash, len(raw))
	for i, r := range raw {
		ids[i] = common.Hash(r)
	}
	return ids, nil
}

func (rc *RedeemContract) getRequests(ctx context.Context, opts *bind.CallOpts, ids []common.Hash) ([]*types.RedeemRequest, error) {
	requests := make([]*types.RedeemRequest, 0, len(ids))
	for _, id := range ids {
		req, err := rc.getRequest(ctx, opts, id)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func (rc *RedeemContract) getRequest(ctx context.Context, opts *bind.CallOpts, id common.Hash) (*types.RedeemRequest, error) {
	out, err := rc.call(ctx, opts, "getRedeemRequest", id)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("unexpected result format")
	}
	res := *abi.ConvertType(out[0], new(redeemRequestResult)).(*redeemRequestResult)
	if res.Requester == (common.Address{}) {
		return nil, fmt.Errorf("redeem request %s not found", id.Hex())
	}
	return res.toRequest(id), nil
}

func (r redeemRequestResult) toRequest(id common.Hash) *types.RedeemRequest {
	return &types.RedeemRequest{
		ID:          id,
		Requester:   r.Requester,
		Provider:    r.Provider,
		Amount:      r.Amount,
		Fee:         r.Fee,
		TransferFee: r.TransferFee,
		Premium:     r.Premium,
		Destination: r.Destination,
		OpenHeight:  r.OpenHeight,
		Period:      r.Period,
		BTCHeight:   r.BtcHeight,
		Status:      types.ChainStatus(r.Status),
	}
}

// call runs a view method with retry.
func (rc *RedeemContract) call(ctx context.Context, opts *bind.CallOpts, method string, args ...interface{}) ([]interface{}, error) {
	start := time.Now()
	out, result := util.RetryWithValue(ctx, rc.client.config.RetryConfig, func() ([]interface{}, error) {
		var out []interface{}
		err := rc.contract.Call(opts, &out, method, args...)
		return out, err
	})
	if result.LastError != nil {
		return nil, fmt.Errorf("%s call failed after %d attempt(s): %w", method, result.Attempts, result.LastError)
	}
	if result.Attempts > 1 {
		logging.Debug("contract call recovered",
			"method", method,
			"attempts", result.Attempts,
			"duration", time.Since(start))
	}
	return out, nil
}
