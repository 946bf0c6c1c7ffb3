package redeem

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vaultbridge/redeemer/internal/logging"
	"github.com/vaultbridge/redeemer/internal/metrics"
	"github.com/vaultbridge/redeemer/pkg/types"
)

// ServiceConfig holds the collaborators of a Service
type ServiceConfig struct {
	Ledger    Ledger
	Submitter Submitter
	Providers ProviderSource
	Proofs    ProofResolver
	Heads     HeadNotifier

	// Destinations is optional; without it destinations are only checked
	// for being non-empty.
	Destinations DestinationValidator

	// Metrics is optional.
	Metrics *metrics.RedeemMetrics
}

// Service is the entry point for listing, requesting, executing and
// watching redeem requests.
type Service struct {
	ledger       Ledger
	submitter    Submitter
	proofs       ProofResolver
	destinations DestinationValidator
	metrics      *metrics.RedeemMetrics

	coordinator *Coordinator
	watcher     *ExpiryWatcher
}

// NewService creates a redeem service
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Ledger == nil:
		return nil, errors.New("ledger is required")
	case cfg.Submitter == nil:
		return nil, errors.New("submitter is required")
	case cfg.Providers == nil:
		return nil, errors.New("provider source is required")
	case cfg.Proofs == nil:
		return nil, errors.New("proof resolver is required")
	case cfg.Heads == nil:
		return nil, errors.New("head notifier is required")
	}

	batch := NewBatchSubmitter(cfg.Submitter, cfg.Ledger, cfg.Metrics)

	return &Service{
		ledger:       cfg.Ledger,
		submitter:    cfg.Submitter,
		proofs:       cfg.Proofs,
		destinations: cfg.Destinations,
		metrics:      cfg.Metrics,
		coordinator:  NewCoordinator(cfg.Providers, batch, cfg.Metrics),
		watcher:      NewExpiryWatcher(cfg.Heads, cfg.Ledger, cfg.Metrics),
	}, nil
}

// List returns every request visible at the latest finalized state.
func (s *Service) List(ctx context.Context) ([]*types.RedeemRequest, error) {
	requests, err := s.ledger.ListRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list redeem requests: %w", err)
	}
	return requests, nil
}

// MapForUser returns account's requests keyed by id.
func (s *Service) MapForUser(ctx context.Context, account common.Address) (map[common.Hash]*types.RedeemRequest, error) {
	requests, err := s.ledger.RequestsFor(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to list redeem requests for %s: %w", account.Hex(), err)
	}

	out := make(map[common.Hash]*types.RedeemRequest, len(requests))
	for _, r := range requests {
		out[r.ID] = r
	}
	return out, nil
}

// Request redeems amount to the external-chain destination. See
// Coordinator.Request for round semantics.
func (s *Service) Request(ctx context.Context, amount *big.Int, destination string, opts RequestOptions) ([]types.RedeemResult, error) {
	signer, ok := s.submitter.Signer()
	if !ok {
		return nil, ErrNoSigner
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if opts.Retries < 0 {
		return nil, ErrInvalidRetries
	}
	if err := s.validateDestination(destination); err != nil {
		return nil, err
	}

	results, err := s.coordinator.Request(ctx, amount, destination, opts)
	for _, r := range results {
		logging.Audit(logging.AuditEvent{
			Operation: "redeem_requested",
			Signer:    signer.Hex(),
			RequestID: r.ID.Hex(),
			Provider:  providerOf(r.Request),
			Amount:    amountOf(r.Request),
			Result:    logging.AuditSuccess,
		})
	}
	if err != nil {
		logging.Audit(logging.AuditEvent{
			Operation: "redeem_requested",
			Signer:    signer.Hex(),
			Amount:    amount.String(),
			Result:    logging.AuditFailure,
			Details:   err.Error(),
		})
		return results, err
	}

	return results, nil
}

// Execute completes request id with proof of the external payment. The
// transaction must emit exactly one ExecuteRedeem event for id.
func (s *Service) Execute(ctx context.Context, id common.Hash, ref types.PaymentRef) error {
	signer, ok := s.submitter.Signer()
	if !ok {
		return ErrNoSigner
	}
	if ref.TxID == "" && !ref.HasExplicitProof() {
		return fmt.Errorf("%w: neither a transaction id nor a proof pair was given", ErrProofUnresolvable)
	}

	proof, err := s.proofs.Resolve(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrProofUnresolvable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrProofUnresolvable, err)
	}

	start := time.Now()
	events, err := s.submitter.ExecuteRedeem(ctx, id, proof)
	s.metrics.ObserveSubmission(OpExecuteRedeem, time.Since(start))
	if err != nil {
		s.metrics.RecordSubmissionError(OpExecuteRedeem)
		s.auditExecute(signer, id, logging.AuditFailure, err.Error())
		return &SubmissionError{Op: OpExecuteRedeem, Err: err}
	}

	if _, err := expectOne(events, types.EventExecuteRedeem, id); err != nil {
		s.auditExecute(signer, id, logging.AuditFailure, err.Error())
		return err
	}

	s.auditExecute(signer, id, logging.AuditSuccess, fmt.Sprintf("proof_bytes=%d raw_tx_bytes=%d", len(proof.MerkleProof), len(proof.RawTx)))
	return nil
}

// SubscribeToExpiry calls cb once for each of account's requests that
// expires. The returned function unsubscribes.
func (s *Service) SubscribeToExpiry(ctx context.Context, account common.Address, cb ExpiryCallback) func() {
	return s.watcher.Subscribe(ctx, account, cb)
}

// Status classifies request id at the latest finalized height.
func (s *Service) Status(ctx context.Context, id common.Hash) (types.Status, error) {
	req, err := s.ledger.GetRequest(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to fetch redeem request %s: %w", id.Hex(), err)
	}
	period, height, err := s.heightAndPeriod(ctx)
	if err != nil {
		return "", err
	}
	return ResolveStatus(StatusInputOf(req), period, height), nil
}

// StatusesForUser classifies all of account's requests at the latest
// finalized height.
func (s *Service) StatusesForUser(ctx context.Context, account common.Address) (map[common.Hash]types.Status, error) {
	requests, err := s.MapForUser(ctx, account)
	if err != nil {
		return nil, err
	}
	period, height, err := s.heightAndPeriod(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[common.Hash]types.Status, len(requests))
	for id, r := range requests {
		out[id] = ResolveStatus(StatusInputOf(r), period, height)
	}
	return out, nil
}

func (s *Service) heightAndPeriod(ctx context.Context) (period, height uint64, err error) {
	period, err = s.ledger.RedeemPeriod(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read redeem period: %w", err)
	}
	height, err = s.ledger.FinalizedHeight(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read finalized height: %w", err)
	}
	return period, height, nil
}

func (s *Service) validateDestination(destination string) error {
	if destination == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDestination)
	}
	if s.destinations == nil {
		return nil
	}
	if err := s.destinations.ValidateDestination(destination); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	return nil
}

func (s *Service) auditExecute(signer common.Address, id common.Hash, result, details string) {
	logging.Audit(logging.AuditEvent{
		Operation: "redeem_executed",
		Signer:    signer.Hex(),
		RequestID: id.Hex(),
		Result:    result,
		Details:   details,
	})
}

func amountOf(r *types.RedeemRequest) string {
	if r == nil || r.Amount == nil {
		return "0"
	}
	return r.Amount.String()
}

func providerOf(r *types.RedeemRequest) string {
	if r == nil {
		return ""
	}
	return r.Provider.Hex()
}
