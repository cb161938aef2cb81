// Command dealkernel runs the deal lifecycle kernel server and its
// operational subcommands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clearstone/dealkernel/pkg/api"
	"github.com/clearstone/dealkernel/pkg/artifacts"
	"github.com/clearstone/dealkernel/pkg/config"
	"github.com/clearstone/dealkernel/pkg/draft"
	"github.com/clearstone/dealkernel/pkg/kernel"
	"github.com/clearstone/dealkernel/pkg/observability"
	"github.com/clearstone/dealkernel/pkg/proofpack"
	"github.com/clearstone/dealkernel/pkg/snapshot"
	"github.com/clearstone/dealkernel/pkg/store"
)

const version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stdout, stderr)
	}

	switch args[1] {
	case "server", "serve":
		return runServer(stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "dealkernel %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: dealkernel <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  server            Run the HTTP server (default)")
	fmt.Fprintln(w, "  verify <dealId>   Verify a deal's event hash chain (--json)")
	fmt.Fprintln(w, "  version           Show version information")
	fmt.Fprintln(w, "  help              Show this help")
}

// openStore opens the configured backend. The returned closer is a no-op for
// the in-memory store.
func openStore(cfg *config.Config) (store.Store, func() error, error) {
	switch cfg.StoreDriver {
	case "postgres":
		s, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "sqlite":
		s, err := store.OpenSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "memory":
		return store.NewMemoryStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func runServer(stdout, stderr io.Writer) int {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.OTLPEndpoint = cfg.OTELEndpoint
	obsCfg.Enabled = cfg.OTELEndpoint != ""
	provider, err := observability.New(ctx, obsCfg)
	if err != nil {
		fmt.Fprintf(stderr, "observability init: %v\n", err)
		return 1
	}

	rules, err := config.DefaultAuthorityRules()
	if err != nil {
		fmt.Fprintf(stderr, "authority profile: %v\n", err)
		return 1
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "store: %v\n", err)
		return 1
	}
	defer func() { _ = closeStore() }()
	logger.Info("store ready", "driver", cfg.StoreDriver)

	arts, err := artifacts.New(st, cfg.ArtifactRoot)
	if err != nil {
		fmt.Fprintf(stderr, "artifact store: %v\n", err)
		return 1
	}

	k := kernel.New(st, rules, kernel.WithLogger(logger))
	snaps := snapshot.New(st)
	drafts := draft.New(st, k, draft.WithLogger(logger))
	packs := proofpack.New(st, snaps, arts)

	var limiter api.Limiter = api.NewIPLimiter(20, 40)
	if cfg.RedisAddr != "" {
		limiter = api.NewRedisLimiter(cfg.RedisAddr, 20, 40)
		logger.Info("rate limiter: redis", "addr", cfg.RedisAddr)
	}

	srv := api.NewServer(k, snaps, drafts, arts, packs,
		api.WithLimiter(limiter),
		api.WithLogger(logger),
		api.WithObservability(provider),
	)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(stderr, "server: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("observability shutdown", "error", err)
		}
	}
	return 0
}

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOut := cmd.Bool("json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: dealkernel verify <dealId> [--json]")
		return 2
	}
	dealID := cmd.Arg(0)

	cfg := config.Load()
	st, closeStore, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "store: %v\n", err)
		return 1
	}
	defer func() { _ = closeStore() }()

	rules, err := config.DefaultAuthorityRules()
	if err != nil {
		fmt.Fprintf(stderr, "authority profile: %v\n", err)
		return 1
	}
	k := kernel.New(st, rules)

	report, err := k.VerifyChain(context.Background(), dealID)
	if err != nil {
		fmt.Fprintf(stderr, "verify %s: %v\n", dealID, err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "Deal:   %s\n", dealID)
		fmt.Fprintf(stdout, "Events: %d\n", report.TotalEvents)
		if report.Valid {
			fmt.Fprintln(stdout, "Chain:  valid")
		} else {
			fmt.Fprintln(stdout, "Chain:  INVALID")
			for _, issue := range report.Issues {
				fmt.Fprintf(stdout, "  seq %d: %s: %s\n", issue.SequenceNumber, issue.Kind, issue.Detail)
			}
		}
	}
	if !report.Valid {
		return 1
	}
	return 0
}
