package redeem

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vaultbridge/redeemer/pkg/types"
)

// ProviderSource discovers providers able to take redemptions, ordered by
// selection priority.
type ProviderSource interface {
	AvailableProviders(ctx context.Context) ([]types.Provider, error)
}

// Submitter broadcasts redeem transactions and returns the events their
// receipts carried.
type Submitter interface {
	// RequestRedeemBatch submits all calls in a single transaction.
	RequestRedeemBatch(ctx context.Context, calls []types.RedeemCall, atomic bool) ([]types.LedgerEvent, error)
	// ExecuteRedeem completes a request with a payment proof.
	ExecuteRedeem(ctx context.Context, id common.Hash, proof *types.PaymentProof) ([]types.LedgerEvent, error)
	// Signer returns the account transactions are sent from, if any.
	Signer() (common.Address, bool)
}

// ProofResolver turns a payment reference into a validated inclusion proof.
type ProofResolver interface {
	Resolve(ctx context.Context, ref types.PaymentRef) (*types.PaymentProof, error)
}

// HeadNotifier delivers finalized heights as they advance. The returned
// function stops delivery.
type HeadNotifier interface {
	SubscribeFinalizedHeads(ctx context.Context, handler func(height uint64)) (func(), error)
}

// Ledger is the read side of the redeem module.
type Ledger interface {
	ListRequests(ctx context.Context) ([]*types.RedeemRequest, error)
	RequestsFor(ctx context.Context, account common.Address) ([]*types.RedeemRequest, error)
	GetRequest(ctx context.Context, id common.Hash) (*types.RedeemRequest, error)
	RedeemPeriod(ctx context.Context) (uint64, error)
	FinalizedHeight(ctx context.Context) (uint64, error)
}

// DestinationValidator checks an external-chain destination address.
type DestinationValidator interface {
	ValidateDestination(addr string) error
}
