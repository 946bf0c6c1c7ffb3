// Package btcproof resolves bitcoin payment references into the merkle proof
// and raw transaction the ledger needs to execute a redeem request.
package btcproof

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/vaultbridge/redeemer/internal/logging"
	"github.com/vaultbridge/redeemer/internal/redeem"
	"github.com/vaultbridge/redeemer/internal/util"
	"github.com/vaultbridge/redeemer/pkg/types"
	"golang.org/x/time/rate"
)

const (
	// httpTimeout bounds a single Esplora request
	httpTimeout = 15 * time.Second

	// maxResponseBytes caps hex bodies; 4MB of block weight is 8MB of hex
	maxResponseBytes = 8 << 20
)

// errNotFound marks a transaction Esplora does not know or has not confirmed
var errNotFound = errors.New("transaction not found or unconfirmed")

// ResolverConfig configures an EsploraResolver
type ResolverConfig struct {
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	Retry             *util.RetryConfig
}

// EsploraResolver fetches payment proofs from an Esplora HTTP API.
type EsploraResolver struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      *util.RetryConfig
}

// NewEsploraResolver creates a resolver against cfg.BaseURL.
func NewEsploraResolver(cfg ResolverConfig) (*EsploraResolver, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("esplora base url is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("requests per second must be positive")
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	retry := cfg.Retry
	if retry == nil {
		retry = util.DefaultRetryConfig()
	}
	retry = retry.WithOnRetry(func(attempt int, err error, wait time.Duration) {
		logging.Debug("esplora request retrying",
			"attempt", attempt,
			"wait", wait,
			logging.Err(err),
			logging.Component("btcproof"))
	})

	return &EsploraResolver{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		retry:   retry,
	}, nil
}

// Resolve returns the proof for ref. Explicit proofs are returned as given;
// otherwise the transaction is looked up by id. Every failure wraps
// redeem.ErrProofUnresolvable.
func (r *EsploraResolver) Resolve(ctx context.Context, ref types.PaymentRef) (*types.PaymentProof, error) {
	if ref.HasExplicitProof() {
		return &types.PaymentProof{
			MerkleProof: append([]byte(nil), ref.MerkleProof...),
			RawTx:       append([]byte(nil), ref.RawTx...),
		}, nil
	}
	if ref.TxID == "" {
		return nil, fmt.Errorf("%w: no transaction id or explicit proof", redeem.ErrProofUnresolvable)
	}

	txid, err := chainhash.NewHashFromStr(ref.TxID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid transaction id %q: %v", redeem.ErrProofUnresolvable, ref.TxID, err)
	}

	proof, err := r.fetchMerkleProof(ctx, txid)
	if err != nil {
		return nil, fmt.Errorf("%w: merkle proof for %s: %v", redeem.ErrProofUnresolvable, txid, err)
	}
	rawTx, err := r.fetchRawTx(ctx, txid)
	if err != nil {
		return nil, fmt.Errorf("%w: raw transaction %s: %v", redeem.ErrProofUnresolvable, txid, err)
	}

	logging.Debug("payment proof resolved",
		"txid", txid.String(),
		"proof_bytes", len(proof),
		"raw_tx_bytes", len(rawTx),
		logging.Component("btcproof"))

	return &types.PaymentProof{MerkleProof: proof, RawTx: rawTx}, nil
}

// fetchMerkleProof returns the serialized merkleblock proving txid and checks
// that it commits to txid.
func (r *EsploraResolver) fetchMerkleProof(ctx context.Context, txid *chainhash.Hash) ([]byte, error) {
	data, err := r.getHex(ctx, "/tx/"+txid.String()+"/merkleblock-proof")
	if err != nil {
		return nil, err
	}

	var mb wire.MsgMerkleBlock
	if err := mb.BtcDecode(bytes.NewReader(data), wire.ProtocolVersion, wire.BaseEncoding); err != nil {
		return nil, fmt.Errorf("malformed merkleblock: %w", err)
	}
	for _, h := range mb.Hashes {
		if h.IsEqual(txid) {
			return data, nil
		}
	}
	return nil, fmt.Errorf("merkleblock does not include transaction")
}

// fetchRawTx returns the serialized transaction and checks its hash.
func (r *EsploraResolver) fetchRawTx(ctx context.Context, txid *chainhash.Hash) ([]byte, error) {
	data, err := r.getHex(ctx, "/tx/"+txid.String()+"/hex")
	if err != nil {
		return nil, err
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("malformed transaction: %w", err)
	}
	if got := tx.TxHash(); !got.IsEqual(txid) {
		return nil, fmt.Errorf("transaction hash mismatch: got %s", got)
	}
	return data, nil
}

// getHex fetches path and decodes the hex body, retrying transient failures.
func (r *EsploraResolver) getHex(ctx context.Context, path string) ([]byte, error) {
	data, result := util.RetryWithValue(ctx, r.retry, func() ([]byte, error) {
		return r.get(ctx, path)
	})
	if result.LastError != nil {
		return nil, result.LastError
	}

	decoded, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid hex response: %w", err)
	}
	return decoded, nil
}

func (r *EsploraResolver) get(ctx context.Context, path string) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, util.MarkNonRetryable(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return nil, util.MarkNonRetryable(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return nil, util.MarkNonRetryable(errNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("esplora returned status %d", resp.StatusCode)
	default:
		return nil, util.MarkNonRetryable(fmt.Errorf("esplora returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
