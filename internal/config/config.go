// Package config resolves the set of launchable server configurations for
// the fetch client. Resolution is a chain of strategies tried in order; the
// first one that yields a non-empty result wins.
package config

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/emailpilot/accountfetch/pkg/errors"
)

// ServerConfig describes one launchable server process. Created once at
// configuration-load time and never mutated afterwards.
type ServerConfig struct {
	Name    string            `yaml:"name" validate:"required,max=100"`
	Command string            `yaml:"command" validate:"required"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// Strategy produces server configurations from one source. An empty slice
// with a nil error means the source had no answer and the next strategy
// should be consulted.
type Strategy interface {
	Name() string
	Load(ctx context.Context) ([]ServerConfig, error)
}

// Resolver composes strategies with first-non-empty-wins semantics.
type Resolver struct {
	strategies []Strategy
	log        *slog.Logger
}

func NewResolver(log *slog.Logger, strategies ...Strategy) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{strategies: strategies, log: log}
}

// Resolve walks the strategy chain. A strategy error is logged and treated
// as "no answer"; only an empty chain result is fatal.
func (r *Resolver) Resolve(ctx context.Context) ([]ServerConfig, error) {
	for _, s := range r.strategies {
		configs, err := s.Load(ctx)
		if err != nil {
			r.log.Warn("config strategy failed, trying next",
				"strategy", s.Name(), "error", err)
			continue
		}
		if len(configs) > 0 {
			r.log.Info("loaded server configurations",
				"strategy", s.Name(), "count", len(configs))
			return configs, nil
		}
	}
	return nil, fmt.Errorf("tried %d strategies: %w", len(r.strategies), apperrors.ErrNoServerConfig)
}
