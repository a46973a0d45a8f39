package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds search tuning parameters. Adjust these to trade speed for
// solution quality.
type Config struct {
	// Deadline is the wall-clock budget of one optimization run.
	Deadline time.Duration `yaml:"deadline"`
	// Strategy is "backtracking", "evolutionary" or "portfolio".
	Strategy string `yaml:"strategy"`
	// PollInterval is how many search nodes run between deadline checks.
	PollInterval int `yaml:"pollInterval"`

	// PopulationSize is the number of genomes per generation.
	PopulationSize int `yaml:"populationSize"`
	// TournamentSize is the number of contenders drawn per parent selection.
	TournamentSize int `yaml:"tournamentSize"`
	// MutationRate is the probability a child gets a swap mutation.
	MutationRate float64 `yaml:"mutationRate"`
	// MaxGenerations stops the evolutionary search early; 0 runs until the deadline.
	MaxGenerations int `yaml:"maxGenerations"`
	// MaxGenomeAttempts caps random restarts when building one complete genome.
	MaxGenomeAttempts int `yaml:"maxGenomeAttempts"`
	// Seed fixes the evolutionary RNG; 0 seeds from the clock.
	Seed uint64 `yaml:"seed"`

	// HistoryDir receives one parquet file per run when set.
	HistoryDir string `yaml:"historyDir"`
	// Listen is the HTTP address used by serve.
	Listen string `yaml:"listen"`
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		Deadline:          10 * time.Second,
		Strategy:          StrategyBacktracking,
		PollInterval:      4096,
		PopulationSize:    50,
		TournamentSize:    5,
		MutationRate:      0.05,
		MaxGenerations:    0,
		MaxGenomeAttempts: 1000,
		Listen:            ":8080",
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Keys missing from the
// file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Deadline <= 0 {
		return fmt.Errorf("deadline must be positive, got %v", c.Deadline)
	}
	if _, err := strategyByName(c.Strategy); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("pollInterval must be positive, got %d", c.PollInterval)
	}
	if c.PopulationSize < 2 {
		return fmt.Errorf("populationSize must be at least 2, got %d", c.PopulationSize)
	}
	if c.TournamentSize < 1 {
		return fmt.Errorf("tournamentSize must be at least 1, got %d", c.TournamentSize)
	}
	if c.MutationRate < 0 || c.MutationRate > 1 {
		return fmt.Errorf("mutationRate must be within [0,1], got %v", c.MutationRate)
	}
	if c.MaxGenerations < 0 {
		return fmt.Errorf("maxGenerations must not be negative, got %d", c.MaxGenerations)
	}
	if c.MaxGenomeAttempts < 1 {
		return fmt.Errorf("maxGenomeAttempts must be at least 1, got %d", c.MaxGenomeAttempts)
	}
	return nil
}
