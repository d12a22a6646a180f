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

package config

import (
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikepool.io/internal/registry"
	v1 "ikepool.io/pkg/apis/v1"
)

func TestLoadInstallsEachPool(t *testing.T) {
	reg := registry.New(log.NewNopLogger())
	err := Load(log.NewNopLogger(), reg, []v1.PoolSpec{
		{Name: "roadwarriors", Range: "10.0.0.1-10.0.0.4"},
		{Name: "partners", Range: "10.0.1.1-10.0.1.4"},
	})
	require.NoError(t, err)

	p, err := reg.Find(mustRange(t, "10.0.0.1-10.0.0.4"))
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	reg := registry.New(log.NewNopLogger())
	err := Load(log.NewNopLogger(), reg, []v1.PoolSpec{
		{Name: "roadwarriors", Range: "10.0.0.1-10.0.0.4"},
		{Name: "roadwarriors", Range: "10.0.1.1-10.0.1.4"},
	})
	assert.Error(t, err)
}

func TestLoadRejectsOverlappingRanges(t *testing.T) {
	reg := registry.New(log.NewNopLogger())
	err := Load(log.NewNopLogger(), reg, []v1.PoolSpec{
		{Name: "a", Range: "10.0.0.1-10.0.0.8"},
		{Name: "b", Range: "10.0.0.5-10.0.0.12"},
	})
	assert.Error(t, err)
}

func TestLoadYAMLParsesDocument(t *testing.T) {
	reg := registry.New(log.NewNopLogger())
	doc := []byte("pools:\n  - name: roadwarriors\n    range: 10.0.0.1-10.0.0.4\n  - name: partners\n    range: 10.0.1.1-10.0.1.4\n")
	err := LoadYAML(log.NewNopLogger(), reg, doc)
	require.NoError(t, err)

	p, err := reg.Find(mustRange(t, "10.0.1.1-10.0.1.4"))
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func mustRange(t *testing.T, s string) v1.Range {
	t.Helper()
	r, err := v1.NewRange(s)
	require.NoError(t, err)
	return r
}
