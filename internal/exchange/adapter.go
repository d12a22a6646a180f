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

// Package exchange is the thin binding layer between this module's
// core (id, dn, pool, registry) and an IKEv1/IKEv2 state machine. It
// does not implement the IKE protocol itself, the HASH(1/2/3) PRF, or
// SPD-route structures — those remain external collaborators, as
// spec.md §6 describes them. Session is the narrow surface such a
// state machine would actually call.
package exchange

import (
	"fmt"
	"net"

	"github.com/go-kit/kit/log"

	"ikepool.io/internal/id"
	"ikepool.io/internal/pool"
	"ikepool.io/internal/registry"
	v1 "ikepool.io/pkg/apis/v1"
)

// PeerAuth is the subset of a connection's authentication outcome the
// pool's reuse predicate needs: whether the peer authenticated with a
// pre-shared key or RFC 7619 null authentication.
type PeerAuth struct {
	PSK      bool
	NullAuth bool
}

// Session models one ModeCfg/Configuration-Payload address request:
// the peer's identity, its auth method, and the pool it's requesting
// from. A real adapter would populate this from the connection and
// state structures the IKE daemon already has in memory.
type Session struct {
	Pool   *pool.Pool
	PeerID id.Identity
	Auth   PeerAuth

	leased   net.IP
	hasLease bool
}

// AcquireLease requests an address for sess from its pool, logging
// and returning the failure if the pool is exhausted.
func AcquireLease(logger log.Logger, sess *Session, uniqueIDs bool) (net.IP, error) {
	policy := pool.Policy{PSK: sess.Auth.PSK, NullAuth: sess.Auth.NullAuth}
	addr, err := sess.Pool.Acquire(policy, sess.PeerID, uniqueIDs)
	if err != nil {
		logger.Log("event", "lease-denied", "peer", id.Render(sess.PeerID), "err", err)
		return nil, err
	}
	sess.leased = addr
	sess.hasLease = true
	return addr, nil
}

// ReleaseLease returns sess's address to its pool, if it holds one.
// A session that never successfully acquired a lease is a no-op,
// matching step 1 of the release algorithm in spec.md §4.D.
func ReleaseLease(logger log.Logger, sess *Session) {
	if !sess.hasLease {
		return
	}
	if err := sess.Pool.Release(sess.leased); err != nil {
		logger.Log("event", "release-error", "peer", id.Render(sess.PeerID), "err", err)
	}
	sess.hasLease = false
	sess.leased = nil
}

// ResolvePool installs (or finds) the named pool's range in reg and
// takes a reference to it on the caller's behalf, matching the
// connection-attach half of reference_addresspool/install_addresspool.
func ResolvePool(reg *registry.Registry, name, rawRange string) (*pool.Pool, error) {
	rng, err := v1.NewRange(rawRange)
	if err != nil {
		return nil, fmt.Errorf("resolving pool %q: %w", name, err)
	}
	p, err := reg.Install(name, rng)
	if err != nil {
		return nil, fmt.Errorf("resolving pool %q: %w", name, err)
	}
	reg.Reference(p)
	return p, nil
}
