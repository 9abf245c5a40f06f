package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/emailpilot/accountfetch/internal/config"
	apperrors "github.com/emailpilot/accountfetch/pkg/errors"
)

// Client owns a named collection of server processes and routes accounts to
// them. Instances are caller-owned: construct one, pass it through the call
// graph, and Cleanup exactly once at shutdown.
type Client struct {
	resolver *config.Resolver
	states   *StateRegistry
	log      *slog.Logger

	// mu guards servers during Initialize and Cleanup. Steady-state reads
	// take it too; it is uncontended outside those two transitions.
	mu      sync.Mutex
	servers map[string]*ServerProcess
}

type Option func(*Client)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client that resolves its server set via resolver.
func NewClient(resolver *config.Resolver, opts ...Option) *Client {
	c := &Client{
		resolver: resolver,
		states:   NewStateRegistry(),
		log:      slog.Default(),
		servers:  make(map[string]*ServerProcess),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize resolves all server configurations and starts plus handshakes
// every process concurrently. A process that fails to start or handshake is
// omitted from the routable set with a warning; it never aborts siblings.
func (c *Client) Initialize(ctx context.Context) error {
	configs, err := c.resolver.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve server configurations: %w", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started = make(map[string]*ServerProcess, len(configs))
	)
	for _, cfg := range configs {
		wg.Add(1)
		go func(cfg config.ServerConfig) {
			defer wg.Done()

			proc := NewServerProcess(cfg, c.states, c.log)
			if err := proc.Start(); err != nil {
				c.log.Warn("failed to start server, omitting from routable set",
					"server", cfg.Name, "error", err)
				return
			}
			if err := proc.Handshake(ctx); err != nil {
				c.log.Warn("handshake failed, omitting server from routable set",
					"server", cfg.Name, "error", err)
				proc.Stop(ctx)
				return
			}

			mu.Lock()
			started[cfg.Name] = proc
			mu.Unlock()
		}(cfg)
	}
	wg.Wait()

	c.mu.Lock()
	c.servers = started
	c.mu.Unlock()

	c.log.Info("server processes initialized",
		"routable", len(started), "configured", len(configs))
	return nil
}

// Resolve maps an account name to its server process using a ranked match
// on normalized names: exact equality beats prefix beats substring. Two or
// more candidates at the best rank is an ambiguity error rather than a
// silent first pick.
func (c *Client) Resolve(account string) (*ServerProcess, error) {
	want := normalizeName(account)
	if want == "" {
		return nil, fmt.Errorf("empty account name: %w", apperrors.ErrServerNotFound)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	bestRank := 0
	var matches []*ServerProcess
	var names []string
	for name, proc := range c.servers {
		got := normalizeName(name)

		var rank int
		switch {
		case got == want:
			rank = 3
		case strings.HasPrefix(got, want):
			rank = 2
		case strings.Contains(got, want):
			rank = 1
		default:
			continue
		}

		if rank > bestRank {
			bestRank = rank
			matches = []*ServerProcess{proc}
			names = []string{name}
		} else if rank == bestRank {
			matches = append(matches, proc)
			names = append(names, name)
		}
	}

	if bestRank == 0 {
		return nil, fmt.Errorf("account %q: %w", account, apperrors.ErrServerNotFound)
	}
	if len(matches) > 1 {
		sort.Strings(names)
		return nil, fmt.Errorf("account %q matches servers %s: %w",
			account, strings.Join(names, ", "), apperrors.ErrAmbiguousServer)
	}
	return matches[0], nil
}

// Servers returns the routable server names with their current states.
func (c *Client) Servers() map[string]ProcessState {
	c.mu.Lock()
	defer c.mu.Unlock()

	servers := make(map[string]ProcessState, len(c.servers))
	for name := range c.servers {
		servers[name] = c.states.Get(name)
	}
	return servers
}

// Cleanup stops every managed process concurrently, best-effort, and clears
// the tracking state. Idempotent: calling it again is a no-op.
func (c *Client) Cleanup(ctx context.Context) {
	c.mu.Lock()
	servers := c.servers
	c.servers = make(map[string]*ServerProcess)
	c.mu.Unlock()

	if len(servers) == 0 {
		c.states.Clear()
		return
	}

	var wg sync.WaitGroup
	for _, proc := range servers {
		wg.Add(1)
		go func(proc *ServerProcess) {
			defer wg.Done()
			proc.Stop(ctx)
		}(proc)
	}
	wg.Wait()

	c.states.Clear()
	c.log.Info("cleanup complete", "stopped", len(servers))
}

// normalizeName case-folds and collapses separators to single spaces so
// "acme-co" matches "Acme Co Klaviyo".
func normalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}
