// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Catalog
// =============================================================================

//go:embed entities.yaml
var defaultEntitiesYAML []byte

// =============================================================================
// Declarative Config
// =============================================================================

// Config is the declarative catalog file: entity definitions plus known
// remote partitions.
//
// # Description
//
// Only the static portion of each entity is declared here. Handlers,
// computed fields, and renderers are attached in code after loading.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	Entities   []EntityConfig `yaml:"entities" validate:"required,min=1,dive"`
	Partitions []Partition    `yaml:"partitions" validate:"dive"`
}

var configValidate = validator.New()

// ParseConfig decodes and validates a catalog config document.
//
// # Inputs
//
//   - raw: YAML document bytes.
//
// # Outputs
//
//   - *Config: Validated config.
//   - error: Non-nil on decode or validation failure.
func ParseConfig(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse catalog config: %w", err)
	}
	if err := configValidate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate catalog config: %w", err)
	}
	return &cfg, nil
}

// DefaultConfig returns the embedded default catalog.
func DefaultConfig() (*Config, error) {
	return ParseConfig(defaultEntitiesYAML)
}

// LoadConfig applies a config to the registry: every declared entity is
// registered (replacing any previous declaration with the same name) and
// the partition list is swapped wholesale.
//
// Tools and computed fields attached to previously registered entities of
// the same name are preserved across a reload.
func (r *Registry) LoadConfig(cfg *Config) {
	for i := range cfg.Entities {
		ec := cfg.Entities[i]
		if prev, ok := r.Resolve(ec.Name); ok {
			ec.Tools = prev.Tools
			ec.ComputedFields = prev.ComputedFields
			ec.RenderSummary = prev.RenderSummary
			ec.RenderDetail = prev.RenderDetail
			ec.AllowedOpsFunc = prev.AllowedOpsFunc
			ec.ScopeFunc = prev.ScopeFunc
		}
		r.Register(&ec)
	}
	r.SetPartitions(cfg.Partitions)
}

// =============================================================================
// File Watcher
// =============================================================================

// WatchConfigFile reloads the catalog config whenever path changes.
//
// # Description
//
// Starts an fsnotify watcher in a background goroutine. A reload that
// fails to parse or validate is logged and ignored — the registry keeps
// the last good configuration. The watcher stops when the returned close
// function is called.
//
// # Inputs
//
//   - path: Catalog YAML file to watch. Must exist at call time.
//   - logger: Logger instance. May be nil.
//
// # Outputs
//
//   - func(): Stops the watcher.
//   - error: Non-nil if the watcher cannot be created or the file cannot
//     be read initially.
func (r *Registry) WatchConfigFile(path string, logger *slog.Logger) (func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog config: %w", err)
	}
	cfg, err := ParseConfig(raw)
	if err != nil {
		return nil, err
	}
	r.LoadConfig(cfg)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create catalog watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch catalog config: %w", err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				raw, err := os.ReadFile(path)
				if err != nil {
					logger.Warn("catalog reload: read failed",
						slog.String("path", path),
						slog.String("error", err.Error()))
					continue
				}
				cfg, err := ParseConfig(raw)
				if err != nil {
					logger.Warn("catalog reload: invalid config kept out",
						slog.String("path", path),
						slog.String("error", err.Error()))
					continue
				}
				r.LoadConfig(cfg)
				logger.Info("catalog reloaded",
					slog.String("path", path),
					slog.Int("entities", len(cfg.Entities)))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("catalog watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
