package main

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vaultbridge/redeemer/internal/btcproof"
	"github.com/vaultbridge/redeemer/internal/chain"
	"github.com/vaultbridge/redeemer/internal/config"
	"github.com/vaultbridge/redeemer/internal/logging"
	"github.com/vaultbridge/redeemer/internal/metrics"
	"github.com/vaultbridge/redeemer/internal/redeem"
)

// mock providers seeded when running without a chain
var mockProviders = []struct {
	addr     string
	capacity int64
}{
	{"0x00000000000000000000000000000000000a11ce", 5_000_000},
	{"0x0000000000000000000000000000000000000b0b", 2_500_000},
	{"0x0000000000000000000000000000000000c4a21e", 1_000_000},
}

// app holds everything a command needs
type app struct {
	cfg      *config.Config
	service  *redeem.Service
	contract *chain.RedeemContract
	metrics  *metrics.RedeemMetrics
	client   *chain.Client
}

// loadConfig reads the config file and applies flag overrides and logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if mockMode {
		cfg.Chain.MockMode = true
	}
	if err := applyLogging(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyLogging(cfg *config.Config) error {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logging.Setup(os.Stderr, cfg.Log.Format, level)
	return nil
}

// newApp wires the ledger, proof resolver, destination validator and
// metrics into a redeem service.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}

	if cfg.Chain.MockMode {
		a.contract = chain.NewMockRedeemContract()
		for _, p := range mockProviders {
			a.contract.MockSetProvider(common.HexToAddress(p.addr), big.NewInt(p.capacity))
		}
		logging.Warn("running against in-memory ledger", logging.Component("redeemd"))
	} else {
		key, err := chain.LoadSignerKey(cfg.Chain.SignerKeyFile)
		if err != nil {
			return nil, err
		}
		client, err := chain.NewClient(&chain.ClientConfig{
			RPCURL:        cfg.Chain.RPCURL,
			WSEndpoint:    cfg.Chain.WSEndpoint,
			ChainID:       cfg.Chain.ChainID,
			FinalityDepth: cfg.Chain.FinalityDepth,
			RetryConfig:   &cfg.Chain.Retry,
		}, key)
		if err != nil {
			return nil, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		a.client = client

		a.contract, err = chain.NewRedeemContract(client, common.HexToAddress(cfg.Chain.RedeemContract))
		if err != nil {
			client.Close()
			return nil, err
		}
	}

	resolver, err := btcproof.NewEsploraResolver(btcproof.ResolverConfig{
		BaseURL:           cfg.Bitcoin.EsploraURL,
		RequestsPerSecond: cfg.Bitcoin.RequestsPerSecond,
		Burst:             cfg.Bitcoin.Burst,
		Retry:             &cfg.Chain.Retry,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create proof resolver: %w", err)
	}
	validator, err := btcproof.NewAddressValidator(cfg.Bitcoin.Network)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.service, err = redeem.NewService(redeem.ServiceConfig{
		Ledger:       a.contract,
		Submitter:    a.contract,
		Providers:    a.contract,
		Proofs:       resolver,
		Heads:        a.contract,
		Destinations: validator,
		Metrics:      a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the chain connection, if any.
func (a *app) Close() {
	if a.client != nil {
		a.client.Close()
	}
}

// withApp loads config, builds the app and runs fn.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
