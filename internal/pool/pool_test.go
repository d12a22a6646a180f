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

package pool

import (
	"testing"

	"net"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikepool.io/internal/id"
	v1 "ikepool.io/pkg/apis/v1"
)

func newTestPool(t *testing.T, raw string) *Pool {
	t.Helper()
	rng, err := v1.NewRange(raw)
	require.NoError(t, err)
	return New(log.NewNopLogger(), "test", rng)
}

func peer(t *testing.T, name string) id.Identity {
	t.Helper()
	i, err := id.Parse([]byte("@"+name), false)
	require.NoError(t, err)
	return i
}

func assertConserved(t *testing.T, p *Pool) {
	t.Helper()
	assert.Equal(t, p.nrLeases, p.InUse()+p.freeList.nr)
}

// TestFourAddressWalkthrough is spec.md §8's alice/bob/carol/dave/eve
// scenario: a 4-address pool, 4 reusable peers acquire and exhaust
// it, a 5th is rejected, one peer's address is released and
// immediately reacquired by the next newcomer.
func TestFourAddressWalkthrough(t *testing.T) {
	p := newTestPool(t, "10.0.0.1-10.0.0.4")
	policy := Policy{}

	addrs := map[string]string{}
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		addr, err := p.Acquire(policy, peer(t, name), true)
		require.NoError(t, err)
		addrs[name] = addr.String()
		assertConserved(t, p)
	}
	assert.Equal(t, uint32(4), p.InUse())

	_, err := p.Acquire(policy, peer(t, "eve"), true)
	assert.EqualError(t, err, "no free address in addresspool")

	require.NoError(t, p.Release(net.ParseIP(addrs["bob"])))
	assertConserved(t, p)

	addr, err := p.Acquire(policy, peer(t, "eve"), true)
	require.NoError(t, err)
	assert.Equal(t, addrs["bob"], addr.String(), "eve should reuse bob's freed slot")
}

func TestReuseRecoversLingeringLease(t *testing.T) {
	p := newTestPool(t, "10.0.0.1-10.0.0.4")
	policy := Policy{}

	first, err := p.Acquire(policy, peer(t, "alice"), true)
	require.NoError(t, err)
	require.NoError(t, p.Release(first))
	assertConserved(t, p)

	second, err := p.Acquire(policy, peer(t, "alice"), true)
	require.NoError(t, err)
	assert.Equal(t, first.String(), second.String(), "same identity should recover its lingering lease")
}

func TestNonReusablePolicyNeverLingers(t *testing.T) {
	p := newTestPool(t, "10.0.0.1-10.0.0.4")
	policy := Policy{PSK: true}

	first, err := p.Acquire(policy, peer(t, "alice"), true)
	require.NoError(t, err)
	require.NoError(t, p.Release(first))

	// alice's lease was one-time, so it was prepended to the free list
	// and a newcomer gets it back immediately, but not because of
	// identity matching.
	second, err := p.Acquire(policy, peer(t, "mallory"), true)
	require.NoError(t, err)
	assert.Equal(t, first.String(), second.String())
}

func TestStealLingeringLeaseWhenPoolIsFull(t *testing.T) {
	p := newTestPool(t, "10.0.0.1-10.0.0.2")
	policy := Policy{}

	a1, err := p.Acquire(policy, peer(t, "alice"), true)
	require.NoError(t, err)
	_, err = p.Acquire(policy, peer(t, "bob"), true)
	require.NoError(t, err)

	require.NoError(t, p.Release(a1)) // alice lingers, pool still full (0 free)
	assertConserved(t, p)

	// carol takes alice's lingering slot since the pool has no
	// genuinely free lease left.
	addr, err := p.Acquire(policy, peer(t, "carol"), true)
	require.NoError(t, err)
	assert.Equal(t, a1.String(), addr.String())
	assertConserved(t, p)

	// alice has been evicted: re-acquiring her identity must not find
	// carol's slot.
	addr2, err := p.Acquire(policy, peer(t, "alice"), true)
	require.Error(t, err, "pool is exhausted, alice's old slot now belongs to carol")
	_ = addr2
}

func TestPoolGrowsOnDemand(t *testing.T) {
	p := newTestPool(t, "10.0.0.1-10.0.0.8")
	policy := Policy{}

	for i, name := range []string{"a", "b", "c", "d", "e"} {
		_, err := p.Acquire(policy, peer(t, name), true)
		require.NoError(t, err, "acquire #%d", i)
		assertConserved(t, p)
	}
	assert.True(t, p.nrLeases >= 5)
	assert.True(t, p.nrLeases <= p.size)
}

// TestReleaseOrderingByReusability is the explicit prepend-vs-append
// table spec.md §4.D calls for. A 5-address pool grows in doubling
// steps (1, 2, 4), so the third acquisition leaves one genuinely free
// slot behind alongside whichever slot alice releases. A one-time
// lease is prepended, so a newcomer gets it back before that
// pre-existing free slot; a reusable lease is appended, so the
// pre-existing free slot goes first and alice's slot lingers for her.
func TestReleaseOrderingByReusability(t *testing.T) {
	tests := []struct {
		name       string
		policy     Policy
		wantLinger bool
	}{
		{name: "psk-is-one-time-prepends", policy: Policy{PSK: true}, wantLinger: false},
		{name: "null-auth-is-one-time-prepends", policy: Policy{NullAuth: true}, wantLinger: false},
		{name: "no-auth-method-is-reusable-appends", policy: Policy{}, wantLinger: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPool(t, "10.0.0.1-10.0.0.5")

			released, err := p.Acquire(tc.policy, peer(t, "alice"), true)
			require.NoError(t, err)
			_, err = p.Acquire(tc.policy, peer(t, "bob"), true)
			require.NoError(t, err)
			_, err = p.Acquire(tc.policy, peer(t, "carol"), true)
			require.NoError(t, err)

			require.NoError(t, p.Release(released))
			assertConserved(t, p)

			addr, err := p.Acquire(tc.policy, peer(t, "newcomer"), true)
			require.NoError(t, err)

			if tc.wantLinger {
				assert.NotEqual(t, released.String(), addr.String(), "reusable lease should be appended, so the pre-existing free slot is handed out first")
			} else {
				assert.Equal(t, released.String(), addr.String(), "one-time lease should be prepended, so it's reissued before the pre-existing free slot")
			}
		})
	}
}

func TestOverlaps(t *testing.T) {
	a := newTestPool(t, "10.0.0.1-10.0.0.4")
	b := newTestPool(t, "10.0.0.4-10.0.0.9")
	c := newTestPool(t, "10.0.0.5-10.0.0.9")

	assert.True(t, a.Overlaps(b))
	assert.False(t, a.Overlaps(c))
}

func TestRefCounting(t *testing.T) {
	p := newTestPool(t, "10.0.0.1-10.0.0.4")
	assert.Equal(t, uint32(1), p.IncRef())
	assert.Equal(t, uint32(2), p.IncRef())
	assert.Equal(t, uint32(1), p.DecRef())
	assert.Equal(t, uint32(0), p.DecRef())
	assert.Panics(t, func() { p.DecRef() })
}
