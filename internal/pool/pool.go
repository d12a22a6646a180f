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

// Package pool implements the address pool engine: a lease array
// with an intrusive free list and reuse-hash buckets, grown on
// demand, grounded on programs/pluto/addresspool.c's struct ip_pool
// and struct lease.
package pool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/go-kit/kit/log"

	"ikepool.io/internal/id"
	v1 "ikepool.io/pkg/apis/v1"
)

// Policy carries the parts of a connection's authentication method
// that bear on whether its lease may be reused, mirroring
// can_reuse_lease's psk/null-auth checks.
type Policy struct {
	PSK      bool
	NullAuth bool
}

// Reusable implements can_reuse_lease: PSK and null-auth connections
// never get a reusable lease (there's no trustworthy peer identity to
// key the reuse on), nor do connections authenticated by null,
// wildcard (None), or bare IP-address identities. Everything else is
// reusable only when the pool's uniqueIDs policy is enabled.
func Reusable(policy Policy, peerID id.Identity, uniqueIDs bool) bool {
	if policy.PSK || policy.NullAuth {
		return false
	}
	switch peerID.Kind {
	case id.Null, id.None, id.IPv4Addr, id.IPv6Addr:
		return false
	}
	return uniqueIDs
}

// Pool is one address range's lease engine.
type Pool struct {
	logger   log.Logger
	name     string
	rng      v1.Range
	size     uint32 // saturated per Range.Size
	nrLeases uint32
	leases   []lease
	freeList list
	refcount uint32
}

// New constructs a Pool over rng. It does not allocate any lease
// slots yet; those are grown lazily by Acquire.
func New(logger log.Logger, name string, rng v1.Range) *Pool {
	size, saturated := rng.Size()
	if saturated {
		logger.Log("event", "pool-size-saturated", "pool", name, "range", rng.String(),
			"msg", "range cardinality exceeds a uint32; size capped, not rejected")
	}
	return &Pool{
		logger:   logger,
		name:     name,
		rng:      rng,
		size:     size,
		freeList: newList(),
	}
}

func (p *Pool) Name() string    { return p.name }
func (p *Pool) Range() v1.Range { return p.rng }
func (p *Pool) Size() uint32    { return p.size }

// InUse is the number of leases currently unavailable for new
// acquisitions: every allocated slot minus whatever sits on the free
// list (lingering reusable leases included). This is the live
// quantity the conservation property (InUse + free list == nrLeases)
// is checked against.
func (p *Pool) InUse() uint32 {
	return p.nrLeases - p.freeList.nr
}

// Overlaps reports whether p's range overlaps other's.
func (p *Pool) Overlaps(other *Pool) bool {
	return p.rng.Overlaps(other.rng)
}

func (p *Pool) IncRef() uint32 { p.refcount++; return p.refcount }

func (p *Pool) DecRef() uint32 {
	if p.refcount == 0 {
		panic("pool: decrementing refcount of a pool already at zero")
	}
	p.refcount--
	return p.refcount
}

func (p *Pool) RefCount() uint32 { return p.refcount }

// Acquire hands out an address for peerID, reusing a lingering lease
// when the connection's policy allows it and one is found under the
// rendered identity, otherwise taking (and if necessary stealing) a
// slot from the free list. It mirrors lease_an_address.
func (p *Pool) Acquire(policy Policy, peerID id.Identity, uniqueIDs bool) (net.IP, error) {
	reusable := Reusable(policy, peerID, uniqueIDs)
	name := id.Render(peerID)

	if reusable {
		if idx, ok := p.recoverLease(name); ok {
			p.leases[idx].refcount++
			p.logger.Log("event", "lease-recovered", "pool", p.name, "peer", name)
			p.updateStats()
			return p.leaseAddress(idx), nil
		}
	}

	if err := p.ensureFree(); err != nil {
		allocationRejected.WithLabelValues(p.name, "exhausted").Inc()
		return nil, err
	}

	idx := p.freeList.first
	p.remove(&p.freeList, freeEntryOf, idx)
	le := &p.leases[idx]

	if le.reuseName != nil {
		p.logger.Log("event", "lease-stolen", "pool", p.name, "from", *le.reuseName, "by", name)
		p.hashRemove(idx)
		le.reuseName = nil
	}

	if reusable {
		n := name
		le.reuseName = &n
		p.hashInsert(idx)
	}

	le.refcount++
	p.updateStats()
	return p.leaseAddress(idx), nil
}

// recoverLease looks for a lease whose reuseName matches name and
// returns it. A lingering match (refcount 0, still on the free list)
// is taken off the free list; a match still held by other connections
// is returned as-is. It mirrors recover_lease.
func (p *Pool) recoverLease(name string) (uint32, bool) {
	if p.nrLeases == 0 {
		return 0, false
	}
	bucket := &p.leases[hashName(name)%p.nrLeases].reuseBucket
	if p.isEmpty(bucket) {
		return 0, false
	}
	for cur := bucket.first; cur != sentinel; cur = p.leases[cur].reuseEntry.next {
		le := &p.leases[cur]
		if le.reuseName == nil || *le.reuseName != name {
			continue
		}
		if le.refcount == 0 {
			p.remove(&p.freeList, freeEntryOf, cur)
		}
		return cur, true
	}
	return 0, false
}

// ensureFree grows the pool when its free list is empty and there's
// still room within size, mirroring lease_an_address's grow step: the
// lease array doubles (capped at size), every existing lease's reuse
// bucket is rebuilt against the new modulus, and new slots are
// prepended to the free list.
func (p *Pool) ensureFree() error {
	if !p.isEmpty(&p.freeList) {
		return nil
	}
	if p.nrLeases >= p.size {
		return errors.New("no free address in addresspool")
	}

	old := p.nrLeases
	next := old * 2
	if old == 0 {
		next = 1
	}
	if next > p.size {
		next = p.size
	}

	grown := make([]lease, next)
	copy(grown, p.leases)
	p.leases = grown
	p.nrLeases = next

	for i := uint32(0); i < old; i++ {
		p.leases[i].reuseEntry = newEntry()
		p.leases[i].reuseBucket = newList()
	}
	for i := old; i < next; i++ {
		p.leases[i] = newLease()
		p.prependLease(&p.freeList, freeEntryOf, i)
	}
	for i := uint32(0); i < old; i++ {
		if p.leases[i].reuseName != nil {
			p.hashInsert(i)
		}
	}

	p.logger.Log("event", "pool-grow", "pool", p.name, "from", old, "to", next)
	p.updateStats()
	return nil
}

// Release returns addr to the pool. A lease with a reuseName lingers
// on the (tail of the) free list once its refcount hits zero; a
// one-time lease is prepended immediately. This mirrors
// rel_lease_addr, including the documented absence of any TTL on
// lingering leases — a connection that reuses the same identity
// forever holds its slot forever, which is a known, uncommitted leak
// in the original and is not fixed here.
func (p *Pool) Release(addr net.IP) error {
	idx, err := p.indexFromAddress(addr)
	if err != nil {
		return err
	}
	if idx >= p.nrLeases {
		panic("pool: release: address is not within this pool's allocated leases")
	}
	le := &p.leases[idx]
	if le.refcount == 0 {
		panic("pool: release: lease refcount already zero")
	}
	le.refcount--

	if le.reuseName != nil {
		if le.refcount == 0 {
			p.appendLease(&p.freeList, freeEntryOf, idx)
			p.logger.Log("event", "lease-lingers", "pool", p.name, "peer", *le.reuseName)
		}
	} else {
		if le.refcount != 0 {
			panic("pool: release: one-time lease still referenced")
		}
		p.prependLease(&p.freeList, freeEntryOf, idx)
		p.logger.Log("event", "lease-freed", "pool", p.name)
	}
	p.updateStats()
	return nil
}

// leaseAddress computes the address for lease index, by adding index
// to the pool's start address within the low 32 bits, the same
// arithmetic lease_address performs via ntohl/htonl on the trailing
// 4 bytes regardless of address family.
func (p *Pool) leaseAddress(index uint32) net.IP {
	addr := append(net.IP(nil), normalizeLen(p.rng.Start, len(p.rng.Start))...)
	n := len(addr)
	v := binary.BigEndian.Uint32(addr[n-4:])
	v += index
	binary.BigEndian.PutUint32(addr[n-4:], v)
	return addr
}

// indexFromAddress is leaseAddress's inverse.
func (p *Pool) indexFromAddress(addr net.IP) (uint32, error) {
	start := p.rng.Start
	a := normalizeLen(addr, len(start))
	if a == nil {
		return 0, fmt.Errorf("address %s is not in the %q address family", addr, p.name)
	}
	n := len(a)
	av := binary.BigEndian.Uint32(a[n-4:])
	sv := binary.BigEndian.Uint32(start[len(start)-4:])
	return av - sv, nil
}

func normalizeLen(ip net.IP, n int) net.IP {
	if n == 4 {
		return ip.To4()
	}
	return ip.To16()
}
