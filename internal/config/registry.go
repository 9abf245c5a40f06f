package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/emailpilot/accountfetch/internal/registry"
)

// secretFetchConcurrency bounds parallel secret store lookups.
const secretFetchConcurrency = 4

// AccountLister lists accounts from the remote registry.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]registry.Account, error)
}

// RegistryStrategy synthesizes server configurations from the account
// registry plus the secret store: one entry per live account that has a
// secret reference.
type RegistryStrategy struct {
	accounts     AccountLister
	secrets      registry.SecretStore
	launcher     string
	launcherArgs []string
	log          *slog.Logger
}

// NewRegistryStrategy wires the registry strategy. launcher is the fixed
// command used to start every synthesized server.
func NewRegistryStrategy(accounts AccountLister, secrets registry.SecretStore, launcher string, launcherArgs []string, log *slog.Logger) *RegistryStrategy {
	if log == nil {
		log = slog.Default()
	}
	return &RegistryStrategy{
		accounts:     accounts,
		secrets:      secrets,
		launcher:     launcher,
		launcherArgs: launcherArgs,
		log:          log,
	}
}

func (s *RegistryStrategy) Name() string { return "registry" }

// Load lists accounts and builds one ServerConfig per eligible account. A
// secret that cannot be fetched skips that account with a warning; it never
// aborts the rest of the listing.
func (s *RegistryStrategy) Load(ctx context.Context) ([]ServerConfig, error) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	var (
		mu      sync.Mutex
		configs []ServerConfig
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(secretFetchConcurrency)

	for _, account := range accounts {
		if !account.Eligible() {
			s.log.Debug("skipping ineligible account",
				"account", account.Name, "status", account.Status)
			continue
		}

		account := account
		g.Go(func() error {
			apiKey, err := s.secrets.Access(gctx, account.SecretRef)
			if err != nil {
				s.log.Warn("failed to fetch secret for account, skipping",
					"account", account.Name, "secret", account.SecretRef, "error", err)
				return nil
			}

			cfg := ServerConfig{
				Name:    fmt.Sprintf("%s Klaviyo", account.Name),
				Command: s.launcher,
				Args:    s.launcherArgs,
				Env: map[string]string{
					"PRIVATE_API_KEY": apiKey,
					"READ_ONLY":       "true",
				},
			}

			mu.Lock()
			configs = append(configs, cfg)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return configs, nil
}
