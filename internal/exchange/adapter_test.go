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

package exchange

import (
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikepool.io/internal/id"
	"ikepool.io/internal/registry"
)

func TestAcquireAndReleaseLeaseRoundTrip(t *testing.T) {
	logger := log.NewNopLogger()
	reg := registry.New(logger)
	p, err := ResolvePool(reg, "roadwarriors", "10.0.0.1-10.0.0.4")
	require.NoError(t, err)
	defer reg.Unreference(p)

	peerID, err := id.Parse([]byte("@alice"), false)
	require.NoError(t, err)
	sess := &Session{Pool: p, PeerID: peerID}

	addr, err := AcquireLease(logger, sess, true)
	require.NoError(t, err)
	assert.NotNil(t, addr)

	ReleaseLease(logger, sess)
	assert.False(t, sess.hasLease)

	// Releasing twice is a documented no-op, not an error.
	ReleaseLease(logger, sess)
}

func TestResolvePoolReusesExactMatch(t *testing.T) {
	logger := log.NewNopLogger()
	reg := registry.New(logger)
	a, err := ResolvePool(reg, "roadwarriors", "10.0.0.1-10.0.0.4")
	require.NoError(t, err)
	b, err := ResolvePool(reg, "roadwarriors", "10.0.0.1-10.0.0.4")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, uint32(2), a.RefCount())
}
