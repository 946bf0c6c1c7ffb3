package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vaultbridge/redeemer/pkg/types"
)

var (
	testContract  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testRequester = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testProvider  = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func mustABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := parseRedeemABI()
	if err != nil {
		t.Fatalf("failed to parse ABI: %v", err)
	}
	return parsed
}

func requestRedeemLog(t *testing.T, parsed abi.ABI, id common.Hash, amount int64) *ethtypes.Log {
	t.Helper()
	ev := parsed.Events["RequestRedeem"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(amount), "bc1qexample")
	if err != nil {
		t.Fatalf("failed to pack RequestRedeem: %v", err)
	}
	return &ethtypes.Log{
		Address: testContract,
		Topics: []common.Hash{
			ev.ID,
			id,
			common.BytesToHash(testRequester.Bytes()),
			common.BytesToHash(testProvider.Bytes()),
		},
		Data: data,
	}
}

func batchItemFailedLog(t *testing.T, parsed abi.ABI, index int64, reason string) *ethtypes.Log {
	t.Helper()
	ev := parsed.Events["BatchItemFailed"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(index), testProvider, reason)
	if err != nil {
		t.Fatalf("failed to pack BatchItemFailed: %v", err)
	}
	return &ethtypes.Log{Address: testContract, Topics: []common.Hash{ev.ID}, Data: data}
}

func TestEventDecoder(t *testing.T) {
	parsed := mustABI(t)
	d, err := newEventDecoder(parsed, testContract)
	if err != nil {
		t.Fatalf("newEventDecoder failed: %v", err)
	}

	idA := common.HexToHash("0xaa")
	idB := common.HexToHash("0xbb")

	execEv := parsed.Events["ExecuteRedeem"]
	execData, err := execEv.Inputs.NonIndexed().Pack(big.NewInt(9))
	if err != nil {
		t.Fatal(err)
	}

	foreign := requestRedeemLog(t, parsed, common.HexToHash("0xcc"), 1)
	foreign.Address = common.HexToAddress("0x4444444444444444444444444444444444444444")

	logs := []*ethtypes.Log{
		requestRedeemLog(t, parsed, idA, 100),
		batchItemFailedLog(t, parsed, 1, "vault banned"),
		foreign,
		{Address: testContract, Topics: []common.Hash{common.HexToHash("0x1234")}},
		requestRedeemLog(t, parsed, idB, 50),
		{
			Address: testContract,
			Topics:  []common.Hash{execEv.ID, idA, common.BytesToHash(testRequester.Bytes()), common.BytesToHash(testProvider.Bytes())},
			Data:    execData,
		},
	}

	events, err := d.decode(logs)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}

	first := events[0]
	if first.Kind != types.EventRequestRedeem || first.RequestID != idA || first.Amount.Int64() != 100 {
		t.Errorf("unexpected first event: %+v", first)
	}
	if first.Requester != testRequester || first.Provider != testProvider {
		t.Errorf("indexed addresses not decoded: %+v", first)
	}

	failed := events[1]
	if failed.Kind != types.EventBatchItemFailed || failed.Index != 1 || failed.Reason != "vault banned" || failed.Provider != testProvider {
		t.Errorf("unexpected failure event: %+v", failed)
	}

	if events[2].RequestID != idB || events[2].Amount.Int64() != 50 {
		t.Errorf("unexpected third event: %+v", events[2])
	}

	exec := events[3]
	if exec.Kind != types.EventExecuteRedeem || exec.RequestID != idA || exec.Amount.Int64() != 9 {
		t.Errorf("unexpected execute event: %+v", exec)
	}
}

func TestEventDecoder_MalformedLog(t *testing.T) {
	parsed := mustABI(t)
	d, err := newEventDecoder(parsed, testContract)
	if err != nil {
		t.Fatal(err)
	}

	short := requestRedeemLog(t, parsed, common.HexToHash("0x01"), 1)
	short.Topics = short.Topics[:2]
	if _, err := d.decode([]*ethtypes.Log{short}); err == nil {
		t.Error("expected error for missing topics")
	}

	garbage := requestRedeemLog(t, parsed, common.HexToHash("0x01"), 1)
	garbage.Data = []byte{0x01, 0x02}
	if _, err := d.decode([]*ethtypes.Log{garbage}); err == nil {
		t.Error("expected error for undecodable data")
	}
}

func TestEventDecoder_Empty(t *testing.T) {
	d, err := newEventDecoder(mustABI(t), testContract)
	if err != nil {
		t.Fatal(err)
	}
	events, err := d.decode(nil)
	if err != nil || len(events) != 0 {
		t.Errorf("expected no events, got %v, %v", events, err)
	}
}

func TestRedeemABI_Methods(t *testing.T) {
	parsed := mustABI(t)

	for _, name := range []string{
		"requestRedeemBatch", "executeRedeem", "getRedeemRequest",
		"getRedeemRequestIds", "getRedeemRequestIdsFor", "redeemPeriod", "getProviderCapacities",
	} {
		if _, ok := parsed.Methods[name]; !ok {
			t.Errorf("method %s missing from ABI", name)
		}
	}

	args := []redeemCallArg{
		{Provider: testProvider, Amount: big.NewInt(10), Destination: "bc1qexample"},
		{Provider: testRequester, Amount: big.NewInt(20), Destination: "bc1qexample"},
	}
	if _, err := parsed.Pack("requestRedeemBatch", args, true); err != nil {
		t.Errorf("failed to pack requestRedeemBatch: %v", err)
	}
	if _, err := parsed.Pack("executeRedeem", common.HexToHash("0x01"), []byte{1}, []byte{2}); err != nil {
		t.Errorf("failed to pack executeRedeem: %v", err)
	}
}

func TestRedeemRequestResultConversion(t *testing.T) {
	parsed := mustABI(t)
	method := parsed.Methods["getRedeemRequest"]

	in := redeemRequestResult{
		Requester:   testRequester,
		Provider:    testProvider,
		Amount:      big.NewInt(1000),
		Fee:         big.NewInt(5),
		TransferFee: big.NewInt(2),
		Premium:     big.NewInt(0),
		Destination: "bc1qexample",
		OpenHeight:  17,
		Period:      200,
		BtcHeight:   800000,
		Status:      uint8(types.ChainStatusReimbursed),
	}
	data, err := method.Outputs.Pack(in)
	if err != nil {
		t.Fatalf("failed to pack result: %v", err)
	}

	out, err := method.Outputs.Unpack(data)
	if err != nil {
		t.Fatalf("failed to unpack result: %v", err)
	}
	res := *abi.ConvertType(out[0], new(redeemRequestResult)).(*redeemRequestResult)

	id := common.HexToHash("0xabc")
	req := res.toRequest(id)
	if req.ID != id || req.Requester != testRequester || req.Provider != testProvider {
		t.Errorf("identity fields lost: %+v", req)
	}
	if req.Amount.Int64() != 1000 || req.Fee.Int64() != 5 || req.TransferFee.Int64() != 2 {
		t.Errorf("amount fields lost: %+v", req)
	}
	if req.OpenHeight != 17 || req.Period != 200 || req.BTCHeight != 800000 {
		t.Errorf("height fields lost: %+v", req)
	}
	if req.Status != types.ChainStatusReimbursed || req.Destination != "bc1qexample" {
		t.Errorf("status/destination lost: %+v", req)
	}
}

func TestRankProviders(t *testing.T) {
	a := common.HexToAddress("0x0a")
	b := common.HexToAddress("0x0b")
	c := common.HexToAddress("0x0c")
	d := common.HexToAddress("0x0d")

	ranked := rankProviders([]types.Provider{
		{ID: a, Capacity: big.NewInt(10)},
		{ID: b, Capacity: big.NewInt(0)},
		{ID: c, Capacity: big.NewInt(50)},
		{ID: d, Capacity: big.NewInt(10)},
	})

	want := []common.Address{c, a, d}
	if len(ranked) != len(want) {
		t.Fatalf("expected %d providers, got %d", len(want), len(ranked))
	}
	for i, p := range ranked {
		if p.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i].Hex(), p.ID.Hex())
		}
	}
}
