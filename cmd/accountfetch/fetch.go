package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/emailpilot/accountfetch/internal/cache"
	"github.com/emailpilot/accountfetch/internal/fetch"
	"github.com/emailpilot/accountfetch/internal/mcp"
)

func newFetchCmd() *cobra.Command {
	var (
		startDate   string
		endDate     string
		cachePath   string
		cacheTTL    time.Duration
		initTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch <account>",
		Short: "Fetch the full data snapshot for one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account := args[0]

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var store *cache.Store
			if cachePath != "" {
				var err error
				store, err = cache.Open(cachePath)
				if err != nil {
					return err
				}
				defer store.Close()

				if cached, ok, err := store.Get(ctx, account, startDate, endDate, cacheTTL); err != nil {
					slog.Warn("cache lookup failed", "error", err)
				} else if ok {
					slog.Info("serving snapshot from cache", "account", account)
					return printResult(cmd, cached)
				}
			}

			resolver, closeSecrets, err := buildResolver(ctx)
			if err != nil {
				return err
			}
			defer closeSecrets()

			client := mcp.NewClient(resolver)
			initCtx, cancel := context.WithTimeout(ctx, initTimeout)
			defer cancel()
			if err := client.Initialize(initCtx); err != nil {
				return err
			}
			// Cleanup must run even when the signal context is already done.
			defer client.Cleanup(context.Background())

			fetcher := fetch.NewFromClient(client, slog.Default())
			result, err := fetcher.FetchAll(ctx, account, startDate, endDate)
			if err != nil {
				return err
			}

			if store != nil {
				if err := store.Put(ctx, account, startDate, endDate, result); err != nil {
					slog.Warn("failed to cache snapshot", "error", err)
				}
			}
			return printResult(cmd, result)
		},
	}

	cmd.Flags().StringVar(&startDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&cachePath, "cache", "", "path to a snapshot cache database")
	cmd.Flags().DurationVar(&cacheTTL, "cache-ttl", 24*time.Hour, "maximum snapshot age served from cache")
	cmd.Flags().DurationVar(&initTimeout, "init-timeout", 60*time.Second, "timeout for starting and handshaking the server processes")
	return cmd
}

func printResult(cmd *cobra.Command, result *fetch.Result) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
