package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vaultbridge/redeemer/internal/logging"
	"github.com/vaultbridge/redeemer/internal/util"
)

const (
	headReconnectBase = 2 * time.Second
	headReconnectMax  = 60 * time.Second
	headChannelBuffer = 16
)

// SubscribeFinalizedHeads calls handler with each new finalized height
// (head minus the finality depth). Heights are delivered in increasing order;
// a height is never delivered twice. A dropped subscription is re-established
// in the background. The returned function stops delivery.
func (rc *RedeemContract) SubscribeFinalizedHeads(ctx context.Context, handler func(height uint64)) (func(), error) {
	if rc.mockMode {
		return rc.mock.subscribeHeads(handler), nil
	}
	if !rc.client.HasWSConfig() {
		return nil, ErrNoWebSocket
	}

	ws := rc.client.WSClient()
	if ws == nil {
		return nil, fmt.Errorf("websocket %w", ErrNotConnected)
	}

	headers := make(chan *ethtypes.Header, headChannelBuffer)
	sub, err := ws.SubscribeNewHead(ctx, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to new heads: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	hw := &headWatcher{client: rc.client, handler: handler}
	util.SafeGoWithName("finalized-heads", func() {
		hw.run(ctx, sub, headers)
	})

	return cancel, nil
}

// headWatcher turns new-head notifications into finalized heights
type headWatcher struct {
	client  *Client
	handler func(uint64)
	last    uint64
}

func (hw *headWatcher) run(ctx context.Context, sub ethereum.Subscription, headers chan *ethtypes.Header) {
	delay := headReconnectBase

	for {
		done := hw.process(ctx, sub, headers)
		sub.Unsubscribe()
		if done {
			return
		}

		// subscription dropped, reconnect with backoff
		for {
			if !sleepOrDone(ctx, delay) {
				return
			}
			delay = nextDelay(delay)

			if err := hw.client.ReconnectWS(ctx); err != nil {
				logging.Warn("head watcher: websocket reconnect failed", logging.Err(err))
				continue
			}
			ws := hw.client.WSClient()
			if ws == nil {
				continue
			}

			var err error
			sub, err = ws.SubscribeNewHead(ctx, headers)
			if err != nil {
				logging.Warn("head watcher: resubscribe failed", logging.Err(err))
				continue
			}
			break
		}

		delay = headReconnectBase
		logging.Info("head watcher: resubscribed")

		// catch up on heads missed while disconnected
		if head, err := hw.client.BlockNumber(ctx); err == nil {
			hw.deliver(head)
		}
	}
}

// process reads headers until the subscription fails (false) or ctx is done (true).
func (hw *headWatcher) process(ctx context.Context, sub ethereum.Subscription, headers <-chan *ethtypes.Header) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case err := <-sub.Err():
			if err != nil {
				logging.Warn("head watcher: subscription error", logging.Err(err))
			}
			return false
		case h := <-headers:
			if h != nil && h.Number != nil {
				hw.deliver(h.Number.Uint64())
			}
		}
	}
}

func (hw *headWatcher) deliver(head uint64) {
	finalized := finalizedAt(head, hw.client.FinalityDepth())
	if finalized <= hw.last {
		return
	}
	hw.last = finalized
	hw.handler(finalized)
}

// nextDelay doubles the delay up to headReconnectMax.
func nextDelay(current time.Duration) time.Duration {
	next := current * 2
	if next > headReconnectMax {
		return headReconnectMax
	}
	return next
}
