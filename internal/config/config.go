// Copyright 2017 Google Inc.
// Copyright 2020 Acnodal Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config parses and validates a list of address pool
// declarations, installing each into a registry. Grounded on
// internal/config/config.go's ParseServiceGroups, generalized from a
// Kubernetes ServiceGroup list to a plain slice of pool specs.
package config

import (
	"fmt"

	"github.com/go-kit/kit/log"
	"gopkg.in/yaml.v3"

	"ikepool.io/internal/registry"
	v1 "ikepool.io/pkg/apis/v1"
)

// LoadYAML unmarshals a configuration document (see v1.Config) and
// loads it via Load. This is the on-disk counterpart of Load, for a
// daemon started with a config file rather than specs built in code.
func LoadYAML(logger log.Logger, reg *registry.Registry, doc []byte) error {
	var cfg v1.Config
	if err := yaml.Unmarshal(doc, &cfg); err != nil {
		return fmt.Errorf("parsing configuration: %w", err)
	}
	return Load(logger, reg, cfg.Pools)
}

// Load parses each spec, rejects duplicate names, and installs the
// range into reg. Registry.Install itself rejects partial-overlap
// ranges, so Load doesn't need to duplicate that check.
func Load(logger log.Logger, reg *registry.Registry, specs []v1.PoolSpec) error {
	seen := map[string]bool{}

	for i, spec := range specs {
		if seen[spec.Name] {
			return fmt.Errorf("parsing address pool #%d: duplicate definition of pool %q", i+1, spec.Name)
		}
		seen[spec.Name] = true

		rng, err := v1.NewRange(spec.Range)
		if err != nil {
			return fmt.Errorf("parsing address pool #%d (%q): %w", i+1, spec.Name, err)
		}

		if _, err := reg.Install(spec.Name, rng); err != nil {
			return fmt.Errorf("parsing address pool #%d (%q): %w", i+1, spec.Name, err)
		}
	}

	logger.Log("event", "config-loaded", "pools", len(specs))
	return nil
}
