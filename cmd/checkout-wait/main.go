// Command checkout-wait runs the post-checkout admission wait against a
// running fulfillment service, the way the storefront does after an order
// or booking is placed. With -grpc-addr it first checks the service's gRPC
// health endpoint. It exits 0 when admitted, 2 when rejected or
// cancelled, 3 on timeout and 1 on error.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"go-fulfillment/internal/orders/admission"
	"go-fulfillment/internal/orders/client"
	"go-fulfillment/internal/orders/domain"
	"go-fulfillment/pkg/errors"
	grpcpkg "go-fulfillment/pkg/grpc"
	"go-fulfillment/pkg/logger"
)

func main() {
	var (
		baseURL  = flag.String("url", getenv("FULFILLMENT_URL", "http://localhost:8080"), "fulfillment service base URL")
		token    = flag.String("token", os.Getenv("FULFILLMENT_TOKEN"), "bearer token of the buyer")
		entity   = flag.String("entity", "order", "order or booking")
		id       = flag.Uint64("id", 0, "record id")
		interval = flag.Duration("interval", admission.DefaultInterval, "poll interval")
		deadline = flag.Duration("deadline", admission.DefaultDeadline, "give up after this long")
		level    = flag.String("log-level", "warn", "log level")
		grpcAddr = flag.String("grpc-addr", os.Getenv("FULFILLMENT_GRPC_ADDR"), "check the service's gRPC health endpoint before waiting")
		caFile   = flag.String("grpc-ca", "", "CA certificate for mTLS")
		certFile = flag.String("grpc-cert", "", "client certificate for mTLS")
		keyFile  = flag.String("grpc-key", "", "client key for mTLS")
	)
	flag.Parse()

	if *id == 0 || *token == "" {
		fmt.Fprintln(os.Stderr, "usage: checkout-wait -id <record id> -token <jwt> [-entity order|booking]")
		os.Exit(1)
	}
	kind := domain.EntityKind(*entity)
	if kind != domain.EntityOrder && kind != domain.EntityBooking {
		fmt.Fprintf(os.Stderr, "unknown entity %q\n", *entity)
		os.Exit(1)
	}

	log := logger.NewWithFormat("checkout-wait", *level, "console")
	defer log.Sync()

	source := client.New(*baseURL, *token, 10*time.Second)
	waiter := admission.NewWaiter(source, admission.Config{Interval: *interval, Deadline: *deadline}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *grpcAddr != "" {
		var files *grpcpkg.TLSFiles
		if *caFile != "" {
			files = &grpcpkg.TLSFiles{CertFile: *certFile, KeyFile: *keyFile, CAFile: *caFile}
		}
		if err := preflight(ctx, *grpcAddr, files); err != nil {
			log.Error("fulfillment service is not serving", zap.String("addr", *grpcAddr), zap.Error(err))
			fmt.Fprintf(os.Stderr, "service unavailable: %v\n", err)
			os.Exit(1)
		}
	}

	ref := domain.Ref{Entity: kind, ID: *id}
	fmt.Printf("Waiting for the kitchen to accept %s #%d ...\n", kind, *id)

	watch := waiter.Watch(ctx, ref)
	res, ok := <-watch.Result()
	if !ok {
		err := watch.Err()
		log.Error("admission wait failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "wait stopped: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(res.Message())
	switch res.Outcome {
	case admission.OutcomeAdmitted:
		os.Exit(0)
	case admission.OutcomeTerminated:
		os.Exit(2)
	default:
		os.Exit(3)
	}
}

func preflight(ctx context.Context, addr string, files *grpcpkg.TLSFiles) error {
	hc, err := client.DialHealth(addr, 5*time.Second, files)
	if err != nil {
		return err
	}
	defer hc.Close()

	serving, err := hc.Serving(ctx, "")
	if err != nil {
		return err
	}
	if !serving {
		return errors.NewGatewayUnavailable("health check reports not serving", nil)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
