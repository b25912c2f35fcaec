// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// SearchConfig contains all search-engine configuration.
// This is the top-level config struct that can be loaded from files/env.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation.
type SearchConfig struct {
	// Population contains population sizing settings.
	Population PopulationConfig `json:"population" yaml:"population"`

	// Selection contains parent-selection settings.
	Selection SelectionConfig `json:"selection" yaml:"selection"`

	// Archive contains per-goal archive settings.
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// Budget contains stopping-condition settings.
	Budget BudgetConfig `json:"budget" yaml:"budget"`

	// Seed fixes the random source. Zero means seed from the clock.
	Seed int64 `json:"seed" yaml:"seed"`
}

// PopulationConfig contains population sizing settings.
type PopulationConfig struct {
	// Size is the number of chromosomes carried between generations.
	Size int `json:"size" yaml:"size"`
}

// SelectionConfig contains parent-selection settings.
type SelectionConfig struct {
	// RankBias steers rank selection toward the best individuals.
	// Must lie in (1, 2].
	RankBias float64 `json:"rank_bias" yaml:"rank_bias"`

	// TournamentSize is the number of uniform draws per tournament.
	TournamentSize int `json:"tournament_size" yaml:"tournament_size"`

	// Maximize flips the tournament comparison direction. Branch
	// fitness is minimized, so the default is false.
	Maximize bool `json:"maximize" yaml:"maximize"`
}

// ArchiveConfig contains per-goal archive settings.
type ArchiveConfig struct {
	// SolutionsPerGoal is the initial capacity of each goal's
	// population before the goal is covered.
	SolutionsPerGoal int `json:"solutions_per_goal" yaml:"solutions_per_goal"`
}

// BudgetConfig contains stopping-condition settings.
type BudgetConfig struct {
	// MaxGenerations stops the search after this many generations.
	MaxGenerations int `json:"max_generations" yaml:"max_generations"`

	// TimeLimit stops the search after this much wall time. Zero
	// disables the limit.
	TimeLimit time.Duration `json:"time_limit" yaml:"time_limit"`

	// StagnationLimit reseeds part of the population from the archive
	// after this many generations without a coverage improvement. Zero
	// disables reseeding.
	StagnationLimit int `json:"stagnation_limit" yaml:"stagnation_limit"`
}

// DefaultSearchConfig returns the default configuration.
//
// Outputs:
//   - SearchConfig: Default configuration with sensible values.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Population: PopulationConfig{
			Size: 50,
		},
		Selection: SelectionConfig{
			RankBias:       1.7,
			TournamentSize: 5,
			Maximize:       false,
		},
		Archive: ArchiveConfig{
			SolutionsPerGoal: 10,
		},
		Budget: BudgetConfig{
			MaxGenerations:  200,
			TimeLimit:       10 * time.Minute,
			StagnationLimit: 30,
		},
		Seed: 0,
	}
}

// LoadSearchConfig loads configuration with priority: env > file > defaults.
//
// Inputs:
//   - configPath: Path to YAML/JSON config file (optional, can be empty).
//
// Outputs:
//   - SearchConfig: Merged configuration.
//   - error: Non-nil if file exists but is invalid.
func LoadSearchConfig(configPath string) (SearchConfig, error) {
	// Start with defaults
	config := DefaultSearchConfig()

	// Load from file if specified
	if configPath != "" {
		if err := loadConfigFile(configPath, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	// Override from environment variables
	loadConfigFromEnv(&config)

	// Validate
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func loadConfigFile(path string, config *SearchConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}

	return nil
}

func loadConfigFromEnv(config *SearchConfig) {
	if v := os.Getenv("EVOGEN_POPULATION_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Population.Size = i
		}
	}
	if v := os.Getenv("EVOGEN_RANK_BIAS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Selection.RankBias = f
		}
	}
	if v := os.Getenv("EVOGEN_TOURNAMENT_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Selection.TournamentSize = i
		}
	}
	if v := os.Getenv("EVOGEN_SOLUTIONS_PER_GOAL"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Archive.SolutionsPerGoal = i
		}
	}
	if v := os.Getenv("EVOGEN_MAX_GENERATIONS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Budget.MaxGenerations = i
		}
	}
	if v := os.Getenv("EVOGEN_TIME_LIMIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Budget.TimeLimit = d
		}
	}
	if v := os.Getenv("EVOGEN_STAGNATION_LIMIT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Budget.StagnationLimit = i
		}
	}
	if v := os.Getenv("EVOGEN_SEED"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Seed = i
		}
	}
}

// Validate checks that the configuration is valid.
//
// Outputs:
//   - error: Non-nil if configuration is invalid.
func (c SearchConfig) Validate() error {
	if c.Population.Size < 1 {
		return fmt.Errorf("population size must be >= 1")
	}
	if c.Selection.RankBias <= 1 || c.Selection.RankBias > 2 {
		return fmt.Errorf("rank_bias must be in (1, 2]")
	}
	if c.Selection.TournamentSize < 1 {
		return fmt.Errorf("tournament_size must be >= 1")
	}
	if c.Archive.SolutionsPerGoal < 1 {
		return fmt.Errorf("solutions_per_goal must be >= 1")
	}
	if c.Budget.MaxGenerations < 1 {
		return fmt.Errorf("max_generations must be >= 1")
	}
	if c.Budget.TimeLimit < 0 {
		return fmt.Errorf("time_limit must be >= 0")
	}
	if c.Budget.StagnationLimit < 0 {
		return fmt.Errorf("stagnation_limit must be >= 0")
	}
	return nil
}
