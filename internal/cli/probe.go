package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/chainguard/internal/infra/rpc/provider"
	"github.com/vietddude/chainguard/internal/resilience/retry"
)

var (
	probeRetries int
	probeTimeout time.Duration
	probeGRPC    bool
	probeService string
)

var probeCmd = &cobra.Command{
	Use:   "probe [url]",
	Short: "Check an RPC endpoint once through the blockchain retry policy",
	Args:  cobra.ExactArgs(1),
	Run:   runProbe,
}

func init() {
	probeCmd.Flags().IntVar(&probeRetries, "retries", 5, "retries after the first attempt")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 10*time.Second, "per-attempt timeout")
	probeCmd.Flags().BoolVar(&probeGRPC, "grpc", false, "probe a gRPC health endpoint instead of JSON-RPC")
	probeCmd.Flags().StringVar(&probeService, "service", "", "gRPC health service name")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) {
	initLogging("")

	var p provider.Provider
	if probeGRPC {
		gp, err := provider.NewGRPCProvider("probe", args[0], probeService)
		if err != nil {
			slog.Error("Failed to create provider", "error", err)
			os.Exit(1)
		}
		p = gp
	} else {
		p = provider.NewHTTPProvider("probe", args[0], probeTimeout)
	}
	defer p.Close()

	policy := retry.BlockchainPolicy(
		retry.WithRetries(probeRetries),
		retry.WithObserver(func(attempt int, err error) {
			slog.Warn("Probe attempt failed", "attempt", attempt, "error", err)
		}),
	)

	start := time.Now()
	status, err := retry.Do(context.Background(), policy, func(ctx context.Context) (provider.Status, error) {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		return p.Check(ctx)
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			slog.Error("Probe failed", "attempts", exhausted.Attempts, "error", exhausted.Err)
		} else {
			slog.Error("Probe failed", "error", err)
		}
		os.Exit(1)
	}

	fmt.Printf("%s OK via %s in %s", args[0], p.Method(), time.Since(start).Round(time.Millisecond))
	if status.LatestBlock > 0 {
		fmt.Printf(" (block %d)", status.LatestBlock)
	}
	fmt.Println()
}
