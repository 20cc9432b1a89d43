// Command sinkd serves the operation sink over gRPC, applying every batch
// to an in-memory ledger.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/holiman/uint256"
	"google.golang.org/grpc"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/ledger"
	"passkeygate.org/internal/obs"
	"passkeygate.org/internal/sink"
	"passkeygate.org/internal/sink/remote"
)

func main() {
	var (
		addr    = flag.String("addr", envOr("PASSKEYGATE_SINKD_ADDR", ":9091"), "gRPC listen address")
		genesis = flag.String("genesis", os.Getenv("PASSKEYGATE_SINKD_GENESIS"), "Comma-separated account=balance pairs to open at start")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := ledger.NewInMemory()
	if err := openGenesis(ctx, l, *genesis); err != nil {
		log.Fatalf("genesis: %v", err)
	}

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("listen %s: %v", *addr, err)
	}
	srv := grpc.NewServer()
	remote.Register(srv, remote.HandlerFunc(func(ctx context.Context, b sink.Batch) error {
		obs.Info("batch_received", map[string]any{"batch_id": b.ID, "origin": b.Origin.String(), "promises": len(b.Promises)})
		return l.Submit(ctx, b)
	}))

	go func() {
		<-ctx.Done()
		obs.Info("sinkd_stopping", nil)
		srv.GracefulStop()
	}()

	obs.Info("sinkd_starting", map[string]any{"addr": lis.Addr().String()})
	if err := srv.Serve(lis); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

func openGenesis(ctx context.Context, l *ledger.InMemory, pairs string) error {
	for _, pair := range strings.Split(pairs, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, amount, _ := strings.Cut(pair, "=")
		id, err := account.Parse(name)
		if err != nil {
			return err
		}
		balance := new(uint256.Int)
		if amount != "" {
			if balance, err = uint256.FromDecimal(amount); err != nil {
				return err
			}
		}
		if _, err := l.CreateAccount(ctx, id, balance); err != nil {
			return err
		}
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
