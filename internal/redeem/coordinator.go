package redeem

import (
	"context"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/vaultbridge/redeemer/internal/logging"
	"github.com/vaultbridge/redeemer/internal/metrics"
	"github.com/vaultbridge/redeemer/pkg/types"
)

// RequestOptions controls a redemption.
type RequestOptions struct {
	// Atomic makes each round all-or-nothing.
	Atomic bool
	// Providers, when set, is used for every round instead of discovery.
	Providers []types.Provider
	// Retries is the number of extra rounds allowed to cover a shortfall.
	Retries int
}

// Coordinator runs the allocate/submit loop for one logical redemption and
// retries shortfalls left by non-atomic rounds.
//
// It holds no per-request lock: callers must not run two Request calls for
// the same logical redemption at once.
type Coordinator struct {
	providers ProviderSource
	batch     *BatchSubmitter
	metrics   *metrics.RedeemMetrics
}

// NewCoordinator creates a coordinator. m may be nil.
func NewCoordinator(providers ProviderSource, batch *BatchSubmitter, m *metrics.RedeemMetrics) *Coordinator {
	return &Coordinator{
		providers: providers,
		batch:     batch,
		metrics:   m,
	}
}

// Request redeems amount to destination in at most opts.Retries+1 rounds.
// Each round allocates what is still missing, submits it and sums the
// amounts the ledger confirmed. The loop ends once nothing is missing or the
// retry budget is spent; a shortfall left at that point is not an error.
//
// Results are ordered most recent round first. A ledger rejection ends the
// call at once; results of earlier rounds are returned alongside any error
// because those requests already exist on the ledger.
func (c *Coordinator) Request(ctx context.Context, amount *big.Int, destination string, opts RequestOptions) ([]types.RedeemResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if opts.Retries < 0 {
		return nil, ErrInvalidRetries
	}

	log := logging.With(logging.CorrelationID(uuid.NewString()))

	var results []types.RedeemResult
	target := new(big.Int).Set(amount)
	retries := opts.Retries

	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		providers := opts.Providers
		if len(providers) == 0 {
			discovered, err := c.providers.AvailableProviders(ctx)
			if err != nil {
				return results, fmt.Errorf("failed to discover providers: %w", err)
			}
			providers = discovered
		}

		alloc, err := Allocate(target, providers)
		if err != nil {
			log.Warn("allocation failed", "round", round, "target", target.String(), logging.Err(err))
			return results, err
		}

		roundResults, err := c.batch.Submit(ctx, alloc, destination, opts.Atomic)
		if err != nil {
			c.metrics.RecordRound(metrics.OutcomeFailed, 0, 0)
			log.Error("redeem round failed",
				"round", round,
				"target", target.String(),
				"submission_error", isSubmissionError(err),
				logging.Err(err))
			return results, err
		}

		fulfilled := new(big.Int)
		for _, r := range roundResults {
			if r.Request != nil && r.Request.Amount != nil {
				fulfilled.Add(fulfilled, r.Request.Amount)
			}
		}

		remainder := new(big.Int).Sub(target, fulfilled)
		if remainder.Sign() < 0 {
			log.Warn("ledger confirmed more than requested",
				"round", round,
				"target", target.String(),
				"fulfilled", fulfilled.String())
			remainder.SetInt64(0)
		}

		outcome := metrics.OutcomeFulfilled
		if remainder.Sign() > 0 {
			outcome = metrics.OutcomeShortfall
		}
		c.metrics.RecordRound(outcome, len(roundResults), len(alloc)-len(roundResults))

		log.Info("redeem round complete",
			"round", round,
			"target", target.String(),
			"fulfilled", fulfilled.String(),
			"remainder", remainder.String(),
			"created", len(roundResults),
			"allocated", len(alloc))

		results = append(roundResults, results...)

		if remainder.Sign() == 0 || retries == 0 {
			if remainder.Sign() > 0 {
				log.Warn("redeem left unfulfilled", "remainder", remainder.String(), "rounds", round)
			}
			return results, nil
		}

		retries--
		target = remainder
	}
}
