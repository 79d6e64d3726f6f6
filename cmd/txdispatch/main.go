// Command txdispatch runs the single-sender transaction dispatch service:
// one processor draining a Redis-backed pool against one owned account.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/vocdoni/txdispatch/config"
	"github.com/vocdoni/txdispatch/internal"
	"github.com/vocdoni/txdispatch/log"
	"github.com/vocdoni/txdispatch/service"
)

// Version is the build version, set at build time with -ldflags
var Version = internal.Version

func main() {
	logLevel := flag.StringP("log.level", "l", "info", "log level (debug, info, warn, error)")
	logOutput := flag.StringP("log.output", "o", "stdout", "log output (stdout, stderr or filepath)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "txdispatch v%s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: txdispatch [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nService tunables are read from the environment (REDIS_URI,\n")
		fmt.Fprintf(os.Stderr, "  ENDPOINT, SGX_URL, ETH_PRIVATE_KEY, ...). One of SGX_URL or\n")
		fmt.Fprintf(os.Stderr, "  ETH_PRIVATE_KEY is required.\n")
	}
	flag.Parse()

	log.Init(*logLevel, *logOutput, nil)
	log.Infow("starting txdispatch", "version", Version)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to setup service: %v", err)
	}
	defer svc.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(ctx)
	})

	log.Info("txdispatch is running, ready to dispatch transactions")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("service failed: %v", err)
	}
	log.Info("txdispatch stopped")
}
