package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/holiman/uint256"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/auth"
	"passkeygate.org/internal/config"
	"passkeygate.org/internal/controller"
	"passkeygate.org/internal/httpapi"
	"passkeygate.org/internal/ledger"
	"passkeygate.org/internal/migrate"
	"passkeygate.org/internal/obs"
	"passkeygate.org/internal/sink"
	"passkeygate.org/internal/sink/remote"
	"passkeygate.org/internal/store"
	"passkeygate.org/internal/store/pg"
	"passkeygate.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("PASSKEYGATE_CONFIG"), "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		kv    store.KV
		probe httpapi.ReadyProbe
	)
	switch cfg.Store.Driver {
	case "postgres":
		st, err := pg.Open(cfg.Store.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer st.Close()
		if cfg.Store.Migrate {
			mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := migrate.NewManager(st.DB(), pg.Migrations(), nil).Up(mctx)
			cancel()
			if err != nil {
				log.Fatalf("migrate: %v", err)
			}
		}
		kv = st
		probe = httpapi.ReadyProbe{DB: st.DB()}
	default:
		kv = store.NewMemory()
	}

	gatewayID := account.ID(cfg.Gateway.Account)
	opts := []httpapi.Option{
		httpapi.WithReadyProbe(probe),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	}
	if cfg.RateLimit.Enabled {
		opts = append(opts, httpapi.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}

	var out sink.Sink
	switch cfg.Sink.Mode {
	case "remote":
		client, err := remote.Dial(cfg.Sink.Target, cfg.Sink.Timeout)
		if err != nil {
			log.Fatalf("dial sink %s: %v", cfg.Sink.Target, err)
		}
		defer client.Close()
		out = client
	default:
		l, err := newLedger(ctx, gatewayID, cfg.Sink.GenesisBalance)
		if err != nil {
			log.Fatalf("ledger: %v", err)
		}
		out = l
		opts = append(opts, httpapi.WithLedger(l))
	}

	hub := stream.New()
	out = stream.Tee(out, hub)
	opts = append(opts, httpapi.WithEvents(hub))

	tokens, err := auth.NewTokens(cfg.Auth.Secret, auth.WithIssuer(cfg.Auth.Issuer), auth.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	gw := controller.New(kv, out)
	api := httpapi.New(gw, tokens, gatewayID, version, opts...)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	obs.Info("gatewayd_starting", map[string]any{
		"version": version,
		"addr":    srv.Addr,
		"account": gatewayID.String(),
		"store":   cfg.Store.Driver,
		"sink":    cfg.Sink.Mode,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("listen: %v", err)
		}
	case <-ctx.Done():
	}

	obs.Info("gatewayd_stopping", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.Error("shutdown_failed", err, nil)
	}
	obs.Info("gatewayd_stopped", nil)
}

// newLedger starts an in-process ledger with the gateway account funded.
func newLedger(ctx context.Context, gateway account.ID, genesis string) (*ledger.InMemory, error) {
	balance := new(uint256.Int)
	if genesis != "" {
		var err error
		if balance, err = uint256.FromDecimal(genesis); err != nil {
			return nil, fmt.Errorf("genesis balance %q: %w", genesis, err)
		}
	}
	l := ledger.NewInMemory()
	if _, err := l.CreateAccount(ctx, gateway, balance); err != nil {
		return nil, err
	}
	return l, nil
}
