package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/vaultbridge/redeemer/internal/config"
	"github.com/vaultbridge/redeemer/internal/logging"
	"github.com/vaultbridge/redeemer/internal/util"
	"github.com/vaultbridge/redeemer/pkg/types"
)

const (
	mockBlockInterval = 2 * time.Second
	shutdownTimeout   = 5 * time.Second
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon: watch accounts for expired requests and serve metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, runDaemon)
		},
	}
}

func runDaemon(ctx context.Context, a *app) error {
	if a.cfg.Chain.MockMode {
		a.contract.MockAutoMine(ctx, mockBlockInterval)
	}

	watchers := newWatchSet(a)
	watchers.sync(ctx, a.cfg.Redeem.WatchAccounts)
	defer watchers.stopAll()

	if err := config.Watch(ctx, configPath, func(cfg *config.Config) {
		if err := applyLogging(cfg); err != nil {
			logging.Warn("failed to apply log settings", logging.Err(err))
		}
		watchers.sync(ctx, cfg.Redeem.WatchAccounts)
	}); err != nil {
		logging.Warn("config hot reload disabled", logging.Err(err))
	}

	var server *http.Server
	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		server = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		util.SafeGoWithName("metrics-server", func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server failed", logging.Err(err))
			}
		})
		logging.Info("metrics endpoint listening", "addr", addr)
	}

	signer, ok := a.contract.Signer()
	logging.Info("redeemd started",
		"signer", signer.Hex(),
		"read_only", !ok,
		"mock", a.cfg.Chain.MockMode,
		"watched_accounts", len(a.cfg.Redeem.WatchAccounts))

	<-ctx.Done()
	logging.Info("shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Warn("metrics server shutdown", logging.Err(err))
		}
	}
	return nil
}

// watchSet keeps one expiry subscription per configured account.
type watchSet struct {
	app  *app
	mu   sync.Mutex
	subs map[common.Address]func()
}

func newWatchSet(a *app) *watchSet {
	return &watchSet{app: a, subs: make(map[common.Address]func())}
}

// sync subscribes accounts not yet watched and unsubscribes those no longer listed.
func (w *watchSet) sync(ctx context.Context, accounts []string) {
	want := make(map[common.Address]struct{}, len(accounts))
	for _, a := range accounts {
		want[common.HexToAddress(a)] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for addr, unsubscribe := range w.subs {
		if _, ok := want[addr]; !ok {
			unsubscribe()
			delete(w.subs, addr)
			logging.Info("stopped watching account", logging.Account(addr.Hex()))
		}
	}
	for addr := range want {
		if _, ok := w.subs[addr]; ok {
			continue
		}
		w.subs[addr] = w.app.service.SubscribeToExpiry(ctx, addr, onExpired)
		logging.Info("watching account", logging.Account(addr.Hex()))
	}
}

func (w *watchSet) stopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for addr, unsubscribe := range w.subs {
		unsubscribe()
		delete(w.subs, addr)
	}
}

func onExpired(req *types.RedeemRequest) {
	logging.Warn("redeem request expired",
		logging.RequestID(req.ID.Hex()),
		logging.Account(req.Requester.Hex()),
		logging.Provider(req.Provider.Hex()),
		"amount", req.Amount.String(),
		"open_height", req.OpenHeight)
}
