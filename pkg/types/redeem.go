package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainStatus is the status tag the ledger stores for a redeem request
type ChainStatus uint8

const (
	ChainStatusPending ChainStatus = iota
	ChainStatusCompleted
	ChainStatusReimbursed
	ChainStatusRetried
)

func (s ChainStatus) String() string {
	switch s {
	case ChainStatusPending:
		return "pending"
	case ChainStatusCompleted:
		return "completed"
	case ChainStatusReimbursed:
		return "reimbursed"
	case ChainStatusRetried:
		return "retried"
	default:
		return "unknown"
	}
}

// Status is the derived state of a redeem request. It is computed on every
// query from the chain tag and the current finalized height, never stored.
type Status string

const (
	StatusPending                  Status = "pending"
	StatusPendingWithProofNotFound Status = "pending_with_proof_not_found"
	StatusCompleted                Status = "completed"
	StatusReimbursed               Status = "reimbursed"
	StatusRetried                  Status = "retried"
	StatusExpired                  Status = "expired"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusReimbursed, StatusRetried:
		return true
	default:
		return false
	}
}

// RedeemRequest is a redeem request as recorded by the ledger
type RedeemRequest struct {
	ID          common.Hash    `json:"id"`
	Requester   common.Address `json:"requester"`
	Provider    common.Address `json:"provider"`
	Amount      *big.Int       `json:"amount"` // smallest unit of the external asset
	Fee         *big.Int       `json:"fee,omitempty"`
	TransferFee *big.Int       `json:"transfer_fee,omitempty"`
	Premium     *big.Int       `json:"premium,omitempty"` // zero unless the provider was below its premium threshold
	Destination string         `json:"destination"`
	OpenHeight  uint64         `json:"open_height"`
	Period      uint64         `json:"period"`
	BTCHeight   uint64         `json:"btc_height"`
	Status      ChainStatus    `json:"status"`
}

// Copy returns a deep copy of the request.
func (r *RedeemRequest) Copy() *RedeemRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Amount = copyInt(r.Amount)
	c.Fee = copyInt(r.Fee)
	c.TransferFee = copyInt(r.TransferFee)
	c.Premium = copyInt(r.Premium)
	return &c
}

// Provider is a custodian able to pay out redemptions, with the capacity it
// advertised at discovery time
type Provider struct {
	ID       common.Address `json:"id"`
	Capacity *big.Int       `json:"capacity"`
}

// AllocationEntry assigns part of a redemption to one provider
type AllocationEntry struct {
	Provider common.Address
	Amount   *big.Int
}

// Allocation is an ordered provider→amount assignment
type Allocation []AllocationEntry

// Total returns the sum of all entry amounts.
func (a Allocation) Total() *big.Int {
	total := new(big.Int)
	for _, e := range a {
		if e.Amount != nil {
			total.Add(total, e.Amount)
		}
	}
	return total
}

// RedeemCall is the payload of one sub-request inside a batch transaction
type RedeemCall struct {
	Provider    common.Address
	Amount      *big.Int
	Destination string
}

// RedeemResult pairs a created request id with its ledger record
type RedeemResult struct {
	ID      common.Hash
	Request *RedeemRequest
}

// EventKind identifies a decoded ledger event
type EventKind string

const (
	EventRequestRedeem   EventKind = "RequestRedeem"
	EventBatchItemFailed EventKind = "BatchItemFailed"
	EventExecuteRedeem   EventKind = "ExecuteRedeem"
)

// LedgerEvent is a typed event emitted by a redeem transaction.
// Fields not carried by a given kind are left zero.
type LedgerEvent struct {
	Kind      EventKind
	RequestID common.Hash
	Requester common.Address
	Provider  common.Address
	Amount    *big.Int
	Index     uint64 // BatchItemFailed: position of the failed call in the batch
	Reason    string
}

// PaymentRef identifies the external payment for an execution, either by
// transaction id or by an explicit proof pair.
type PaymentRef struct {
	TxID        string
	MerkleProof []byte
	RawTx       []byte
}

// HasExplicitProof reports whether both proof bytes were supplied.
func (r PaymentRef) HasExplicitProof() bool {
	return len(r.MerkleProof) > 0 && len(r.RawTx) > 0
}

// PaymentProof is a resolved inclusion proof for an external payment
type PaymentProof struct {
	MerkleProof []byte
	RawTx       []byte
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
