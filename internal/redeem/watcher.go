package redeem

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vaultbridge/redeemer/internal/logging"
	"github.com/vaultbridge/redeemer/internal/metrics"
	"github.com/vaultbridge/redeemer/pkg/types"
)

// ExpiryCallback receives a request the first time it is seen expired.
type ExpiryCallback func(req *types.RedeemRequest)

// ExpiryWatcher re-evaluates an account's requests on every finalized height
// and reports those that expire.
type ExpiryWatcher struct {
	heads   HeadNotifier
	ledger  Ledger
	metrics *metrics.RedeemMetrics
}

// NewExpiryWatcher creates an expiry watcher. m may be nil.
func NewExpiryWatcher(heads HeadNotifier, ledger Ledger, m *metrics.RedeemMetrics) *ExpiryWatcher {
	return &ExpiryWatcher{
		heads:   heads,
		ledger:  ledger,
		metrics: m,
	}
}

// subscription owns the set of requests already reported to its callback.
type subscription struct {
	watcher  *ExpiryWatcher
	ctx      context.Context
	account  common.Address
	callback ExpiryCallback

	mu       sync.Mutex
	notified map[common.Hash]struct{}
	stopped  bool
}

// Subscribe calls cb once for each of account's requests that becomes
// expired, evaluated at every new finalized height. Evaluation errors are
// logged and the subscription keeps running. If the head subscription cannot
// be established the error is logged and a no-op unsubscribe is returned.
//
// The returned function stops future callbacks and may be called more than
// once.
func (w *ExpiryWatcher) Subscribe(ctx context.Context, account common.Address, cb ExpiryCallback) func() {
	s := &subscription{
		watcher:  w,
		ctx:      ctx,
		account:  account,
		callback: cb,
		notified: make(map[common.Hash]struct{}),
	}

	cancel, err := w.heads.SubscribeFinalizedHeads(ctx, s.onHeight)
	if err != nil {
		logging.Error("failed to subscribe to finalized heads",
			logging.Account(account.Hex()),
			logging.Err(err))
		return func() {}
	}

	logging.Debug("expiry watcher subscribed", logging.Account(account.Hex()))

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.stopped = true
			s.mu.Unlock()
			cancel()
		})
	}
}

func (s *subscription) onHeight(height uint64) {
	if s.isStopped() {
		return
	}
	s.watcher.metrics.SetFinalizedHeight(height)

	expired, err := s.evaluate(height)
	if err != nil {
		s.watcher.metrics.RecordWatcherError()
		logging.Warn("expiry evaluation failed",
			logging.Account(s.account.Hex()),
			logging.Height(height),
			logging.Err(err))
		return
	}

	for _, req := range expired {
		if s.isStopped() {
			return
		}
		s.watcher.metrics.RecordExpiryNotification()
		logging.Info("redeem request expired",
			logging.RequestID(req.ID.Hex()),
			logging.Account(s.account.Hex()),
			logging.Height(height))
		s.callback(req)
	}
}

// evaluate returns the requests that are expired at height and were not
// reported before, marking them as reported.
func (s *subscription) evaluate(height uint64) ([]*types.RedeemRequest, error) {
	requests, err := s.watcher.ledger.RequestsFor(s.ctx, s.account)
	if err != nil {
		return nil, err
	}
	period, err := s.watcher.ledger.RedeemPeriod(s.ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*types.RedeemRequest
	for _, req := range requests {
		if ResolveStatus(StatusInputOf(req), period, height) != types.StatusExpired {
			continue
		}
		if _, done := s.notified[req.ID]; done {
			continue
		}
		s.notified[req.ID] = struct{}{}
		expired = append(expired, req)
	}
	return expired, nil
}

func (s *subscription) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
