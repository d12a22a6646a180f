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

// Package registry implements the pool registry: the collection of
// installed address pools, keyed by range rather than by name, so
// that two connections describing the same range always end up
// sharing one Pool. Grounded on find_addresspool/install_addresspool
// in programs/pluto/addresspool.c.
package registry

import (
	"errors"
	"sync"

	"github.com/go-kit/kit/log"

	"ikepool.io/internal/pool"
	v1 "ikepool.io/pkg/apis/v1"
)

// Registry holds every installed Pool, with explicit construction and
// lifecycle so tests (and multiple independent daemons in the same
// process) can each have their own, per spec.md's design note that an
// implementation should encapsulate the global pool list behind a
// handle rather than a package-level variable.
//
// The core pool/lease engine assumes the single-threaded cooperative
// model addresspool.c runs under (spec.md §5): no internal locking
// inside Pool itself. Registry adds one mutex around its own
// operations so that Install/Find/Reference/Unreference are safe to
// call from more than one goroutine, without pretending the
// underlying lease bookkeeping is itself concurrency-safe — callers
// that need concurrent Acquire/Release on the same Pool must still
// serialize those themselves.
type Registry struct {
	mu     sync.Mutex
	logger log.Logger
	pools  []*pool.Pool
}

// New constructs an empty Registry.
func New(logger log.Logger) *Registry {
	return &Registry{logger: logger}
}

// Find looks up a pool by its exact range, the way find_addresspool
// does. A range that partially overlaps an existing pool (touches it
// but doesn't match exactly) is an error; a wholly disjoint range is
// simply "not found" (nil, nil); an exact match returns the pool.
func (r *Registry) Find(rng v1.Range) (*pool.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(rng)
}

func (r *Registry) find(rng v1.Range) (*pool.Pool, error) {
	for _, p := range r.pools {
		existing := p.Range()
		switch {
		case rangesEqual(rng, existing):
			return p, nil
		case rng.Overlaps(existing):
			r.logger.Log("event", "pool-overlap-rejected", "new", rng.String(), "existing", existing.String())
			return nil, errors.New("ERROR: partial overlap of addresspool")
		}
	}
	return nil, nil
}

func rangesEqual(a, b v1.Range) bool {
	return a.Start.Equal(b.Start) && a.End.Equal(b.End)
}

// Install finds or creates the pool for rng, the way
// install_addresspool does: an exact-match existing pool is returned
// as-is, a disjoint range gets a freshly created pool, and a partial
// overlap is rejected.
func (r *Registry) Install(name string, rng v1.Range) (*pool.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.find(rng)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	np := pool.New(r.logger, name, rng)
	r.pools = append(r.pools, np)
	r.logger.Log("event", "pool-installed", "pool", name, "range", rng.String())
	return np, nil
}

// Reference increments p's reference count, recording that one more
// connection is attached to it.
func (r *Registry) Reference(p *pool.Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.IncRef()
}

// Unreference decrements p's reference count and, if it reaches zero,
// removes it from the registry entirely. Mirrors
// unreference_addresspool.
func (r *Registry) Unreference(p *pool.Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.DecRef() != 0 {
		return
	}
	for i, existing := range r.pools {
		if existing == p {
			r.pools = append(r.pools[:i], r.pools[i+1:]...)
			r.logger.Log("event", "pool-freed", "pool", p.Name())
			return
		}
	}
}
