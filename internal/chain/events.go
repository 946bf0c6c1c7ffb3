package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vaultbridge/redeemer/pkg/types"
)

// eventDecoder turns receipt logs of the redeem module into typed events.
type eventDecoder struct {
	abi      abi.ABI
	contract common.Address
	kinds    map[common.Hash]types.EventKind
}

func newEventDecoder(parsed abi.ABI, contract common.Address) (*eventDecoder, error) {
	d := &eventDecoder{
		abi:      parsed,
		contract: contract,
		kinds:    make(map[common.Hash]types.EventKind),
	}
	for _, kind := range []types.EventKind{types.EventRequestRedeem, types.EventBatchItemFailed, types.EventExecuteRedeem} {
		ev, ok := parsed.Events[string(kind)]
		if !ok {
			return nil, fmt.Errorf("event %s not found in ABI", kind)
		}
		d.kinds[ev.ID] = kind
	}
	return d, nil
}

// decode returns the redeem events among logs, in log order. Logs of other
// contracts and unknown topics are skipped.
func (d *eventDecoder) decode(logs []*ethtypes.Log) ([]types.LedgerEvent, error) {
	var events []types.LedgerEvent
	for _, log := range logs {
		if log == nil || log.Address != d.contract || len(log.Topics) == 0 {
			continue
		}
		kind, ok := d.kinds[log.Topics[0]]
		if !ok {
			continue
		}
		ev, err := d.decodeLog(kind, log)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s log %d: %w", kind, log.Index, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (d *eventDecoder) decodeLog(kind types.EventKind, log *ethtypes.Log) (types.LedgerEvent, error) {
	ev := types.LedgerEvent{Kind: kind}

	fields := make(map[string]interface{})
	if err := d.abi.UnpackIntoMap(fields, string(kind), log.Data); err != nil {
		return ev, err
	}

	switch kind {
	case types.EventRequestRedeem, types.EventExecuteRedeem:
		if len(log.Topics) < 4 {
			return ev, fmt.Errorf("expected 4 topics, got %d", len(log.Topics))
		}
		ev.RequestID = log.Topics[1]
		ev.Requester = common.BytesToAddress(log.Topics[2].Bytes())
		ev.Provider = common.BytesToAddress(log.Topics[3].Bytes())
		ev.Amount, _ = fields["amount"].(*big.Int)
	case types.EventBatchItemFailed:
		if idx, ok := fields["index"].(*big.Int); ok {
			ev.Index = idx.Uint64()
		}
		ev.Provider, _ = fields["provider"].(common.Address)
		ev.Reason, _ = fields["reason"].(string)
	}
	return ev, nil
}
