// Package config implements the YAML-driven StoreConfig of the ambient
// stack: every knob a deployed Store needs that is left to the operator
// (backend path, logging level, merge trigger thresholds), loaded with
// gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StoreConfig configures one Store instance.
type StoreConfig struct {
	// Path is the bbolt data file backing this store.
	Path string `yaml:"path"`

	// DefaultAnalyzer names the analysis.Registry entry used by analyzed
	// fields that don't override one.
	DefaultAnalyzer string `yaml:"default_analyzer"`

	// LogLevel names a zerolog level ("debug", "info", "warn", "error");
	// empty defaults to "info". No package in this module parses or applies
	// it: a Store logs through the logger passed with store.WithLogger.
	LogLevel string `yaml:"log_level"`

	Merge MergePolicy `yaml:"merge"`

	BM25 BM25Params `yaml:"bm25"`
}

// BM25Params are the free parameters of the BM25 relevance function, the
// store's only scoring model.
type BM25Params struct {
	// K1 bounds how quickly repeated term occurrences saturate.
	K1 float64 `yaml:"k1"`

	// B sets how strongly scores are normalized by field length, from 0
	// (not at all) to 1 (fully).
	B float64 `yaml:"b"`
}

// MergePolicy controls when a Store's background compaction should run.
type MergePolicy struct {
	// MaxActiveSegments triggers a merge of all active segments once the
	// active set grows past this size. Store.MergeIfNeeded skips this
	// trigger when it is 0, but Load and Default replace a 0 with 8;
	// callers can still invoke merge.Engine.Merge directly.
	MaxActiveSegments int `yaml:"max_active_segments"`

	// MinDeletionRatio additionally triggers a merge of a segment once its
	// tombstoned fraction of documents reaches this ratio, reclaiming
	// space sooner than waiting purely on segment count. Store.MergeIfNeeded
	// skips this trigger when it is 0, but Load and Default replace a 0
	// with 0.3.
	MinDeletionRatio float64 `yaml:"min_deletion_ratio"`
}

// defaults fills in zero-valued fields with the configuration a freshly
// created store should use.
func (c *StoreConfig) defaults() {
	if c.DefaultAnalyzer == "" {
		c.DefaultAnalyzer = "standard"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Merge.MaxActiveSegments == 0 {
		c.Merge.MaxActiveSegments = 8
	}
	if c.Merge.MinDeletionRatio == 0 {
		c.Merge.MinDeletionRatio = 0.3
	}
	if c.BM25.K1 == 0 {
		c.BM25.K1 = 1.2
	}
	if c.BM25.B == 0 {
		c.BM25.B = 0.75
	}
}

// Load reads and parses a StoreConfig from a YAML file, applying defaults
// to any field the file leaves zero.
func Load(path string) (*StoreConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c StoreConfig
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.defaults()
	if c.Path == "" {
		return nil, fmt.Errorf("config: %s: path is required", path)
	}
	return &c, nil
}

// Default returns a StoreConfig pointed at path with every other field
// defaulted.
func Default(path string) *StoreConfig {
	c := &StoreConfig{Path: path}
	c.defaults()
	return c
}
