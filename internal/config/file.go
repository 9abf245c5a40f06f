package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// fileConfig is the root structure of the local server configuration file.
type fileConfig struct {
	Servers []ServerConfig `yaml:"servers" validate:"required,min=1,dive"`
}

// FileStrategy loads server configurations from a local YAML file. Entries
// whose name does not carry the account-family marker are filtered out; the
// filter is a permissive case-insensitive substring match.
type FileStrategy struct {
	path   string
	family string
}

// NewFileStrategy creates a file strategy for the given path. family may be
// empty to load every entry.
func NewFileStrategy(path, family string) *FileStrategy {
	return &FileStrategy{path: path, family: family}
}

func (s *FileStrategy) Name() string { return "file" }

// Load reads and validates the configuration file. A missing file is "no
// answer", not an error.
func (s *FileStrategy) Load(_ context.Context) ([]ServerConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// ${VAR} placeholders resolve against the process environment.
	expanded := os.ExpandEnv(string(data))

	var cfg fileConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	seen := make(map[string]bool)
	configs := make([]ServerConfig, 0, len(cfg.Servers))
	for _, server := range cfg.Servers {
		if seen[server.Name] {
			return nil, fmt.Errorf("duplicate server name found: %s", server.Name)
		}
		seen[server.Name] = true

		if s.family != "" && !strings.Contains(strings.ToLower(server.Name), strings.ToLower(s.family)) {
			continue
		}
		configs = append(configs, server)
	}
	return configs, nil
}
