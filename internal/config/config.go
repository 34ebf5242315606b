// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Coordinator configures cmd/coordinator.
type Coordinator struct {
	Addr           string        `env:"COORDINATOR_ADDR" envDefault:":8080"`
	StateFile      string        `env:"STATE_FILE"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	HealthInterval time.Duration `env:"HEALTH_INTERVAL" envDefault:"5s"`
	WaitTimeout    time.Duration `env:"WAIT_TIMEOUT" envDefault:"30s"`
}

// Node configures cmd/node.
type Node struct {
	ID          string        `env:"NODE_ID,required,notEmpty"`
	Listen      string        `env:"NODE_LISTEN" envDefault:":8081"`
	Addr        string        `env:"NODE_ADDR" envDefault:"http://127.0.0.1:8081"`
	Coordinator string        `env:"COORDINATOR_ADDR,required"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	LoadDelay   time.Duration `env:"CORE_LOAD_DELAY" envDefault:"200ms"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadCoordinator parses the coordinator configuration.
func LoadCoordinator() (Coordinator, error) {
	var cfg Coordinator
	if err := ParseEnv(&cfg); err != nil {
		return Coordinator{}, err
	}
	if cfg.HealthInterval <= 0 {
		return Coordinator{}, fmt.Errorf("HEALTH_INTERVAL must be positive, got %s", cfg.HealthInterval)
	}
	if cfg.WaitTimeout <= 0 {
		return Coordinator{}, fmt.Errorf("WAIT_TIMEOUT must be positive, got %s", cfg.WaitTimeout)
	}
	return cfg, nil
}

// LoadNode parses the node agent configuration.
func LoadNode() (Node, error) {
	var cfg Node
	if err := ParseEnv(&cfg); err != nil {
		return Node{}, err
	}
	if cfg.LoadDelay < 0 {
		return Node{}, fmt.Errorf("CORE_LOAD_DELAY must not be negative, got %s", cfg.LoadDelay)
	}
	return cfg, nil
}
