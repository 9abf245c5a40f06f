// Command accountfetch launches the configured marketing-data server
// processes and fetches per-account snapshots over them.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/emailpilot/accountfetch/internal/config"
	"github.com/emailpilot/accountfetch/internal/registry"
)

var (
	flagConfig       string
	flagLogLevel     string
	flagFamily       string
	flagRegistryURL  string
	flagGCPProject   string
	flagLauncher     string
	flagLauncherArgs []string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "accountfetch",
		Short:         "Fetch per-account marketing data over managed MCP server processes",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogger(flagLogLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", defaultConfigPath(), "path to the server configuration file")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flagFamily, "family", "klaviyo", "account family marker used to filter file config entries")
	cmd.PersistentFlags().StringVar(&flagRegistryURL, "registry-url", os.Getenv("REGISTRY_URL"), "account registry API endpoint (enables the registry fallback)")
	cmd.PersistentFlags().StringVar(&flagGCPProject, "gcp-project", os.Getenv("GCP_PROJECT"), "GCP project holding the account secrets")
	cmd.PersistentFlags().StringVar(&flagLauncher, "launcher", "/usr/local/bin/uvx", "command used to launch registry-provisioned servers")
	cmd.PersistentFlags().StringSliceVar(&flagLauncherArgs, "launcher-arg", []string{"klaviyo-mcp-server@latest"}, "arguments for the launcher command")

	cmd.AddCommand(newFetchCmd(), newServersCmd(), newToolsCmd())
	return cmd
}

func defaultConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "config/servers.yaml"
}

func setupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	// Results go to stdout; logs stay on stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// buildResolver assembles the strategy chain: local file first, registry
// fallback when an endpoint is configured. The returned closer releases the
// secret store connection.
func buildResolver(ctx context.Context) (*config.Resolver, func(), error) {
	strategies := []config.Strategy{config.NewFileStrategy(flagConfig, flagFamily)}
	closer := func() {}

	if flagRegistryURL != "" {
		secrets, err := registry.NewGoogleSecretStore(ctx, flagGCPProject)
		if err != nil {
			return nil, nil, err
		}
		closer = func() { _ = secrets.Close() }
		strategies = append(strategies, config.NewRegistryStrategy(
			registry.NewClient(flagRegistryURL), secrets,
			flagLauncher, flagLauncherArgs, slog.Default()))
	}

	return config.NewResolver(slog.Default(), strategies...), closer, nil
}
