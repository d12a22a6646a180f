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

// sentinel marks the end of a list, or an unlinked entry. Indices
// are used instead of pointers so the lease array can be grown by
// reallocation without invalidating in-flight links (addresspool.c
// does the same thing with array offsets rather than pointers, for
// the same reason).
const sentinel = ^uint32(0)

// entry is one node's forward/back links within whichever list it
// currently belongs to: the free list, or a reuse-hash bucket chain.
type entry struct {
	prev, next uint32
}

func newEntry() entry {
	return entry{prev: sentinel, next: sentinel}
}

// list is an intrusive doubly-linked list, identified only by the
// index of its first and last members.
type list struct {
	first, last uint32
	nr          uint32
}

func newList() list {
	return list{first: sentinel, last: sentinel}
}

// lease is one address slot. refcount tracks how many connections
// currently hold it; reuseName, when non-nil, is the rendered peer
// identity this lease will be handed back to on request (the
// "lingering" case). reuseBucket is only meaningful when this lease's
// index happens to be a hash bucket head.
type lease struct {
	refcount    uint32
	freeEntry   entry
	reuseEntry  entry
	reuseBucket list
	reuseName   *string
}

func newLease() lease {
	return lease{
		freeEntry:   newEntry(),
		reuseEntry:  newEntry(),
		reuseBucket: newList(),
	}
}

func freeEntryOf(l *lease) *entry  { return &l.freeEntry }
func reuseEntryOf(l *lease) *entry { return &l.reuseEntry }

// isEmpty reports whether lst has no members, asserting the list's
// own bookkeeping is internally consistent while it's at it — the
// same sanity checks addresspool.c's IS_EMPTY macro performs.
func (p *Pool) isEmpty(lst *list) bool {
	empty := lst.nr == 0
	if empty {
		if lst.first != sentinel || lst.last != sentinel {
			panic("pool: empty list has non-sentinel first/last")
		}
		return true
	}
	if lst.first == sentinel || lst.last == sentinel {
		panic("pool: non-empty list has sentinel first/last")
	}
	return false
}

func (p *Pool) remove(lst *list, get func(*lease) *entry, idx uint32) {
	e := get(&p.leases[idx])
	if lst.first == idx {
		lst.first = e.next
	} else {
		get(&p.leases[e.prev]).next = e.next
	}
	if lst.last == idx {
		lst.last = e.prev
	} else {
		get(&p.leases[e.next]).prev = e.prev
	}
	e.prev, e.next = sentinel, sentinel
	lst.nr--
}

func (p *Pool) fill(lst *list, get func(*lease) *entry, idx uint32) {
	lst.first, lst.last = idx, idx
	*get(&p.leases[idx]) = newEntry()
}

// appendLease adds idx to the tail of lst: used for lingering
// reusable leases, so they have the longest possible window before
// being stolen by a later acquire.
func (p *Pool) appendLease(lst *list, get func(*lease) *entry, idx uint32) {
	if p.isEmpty(lst) {
		p.fill(lst, get, idx)
		lst.nr++
		return
	}
	old := lst.last
	e := get(&p.leases[idx])
	e.next, e.prev = sentinel, old
	get(&p.leases[old]).next = idx
	lst.last = idx
	lst.nr++
}

// prependLease adds idx to the head of lst: used for one-time
// (non-reusable) leases, so the most recently freed address is the
// very next one handed out.
func (p *Pool) prependLease(lst *list, get func(*lease) *entry, idx uint32) {
	if p.isEmpty(lst) {
		p.fill(lst, get, idx)
		lst.nr++
		return
	}
	old := lst.first
	e := get(&p.leases[idx])
	e.prev, e.next = sentinel, old
	get(&p.leases[old]).prev = idx
	lst.first = idx
	lst.nr++
}

// hashName implements the hasher() function from addresspool.c: a
// plain polynomial hash over the rendered identity string.
func hashName(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = h*251 + uint32(name[i])
	}
	return h
}

func (p *Pool) hashInsert(idx uint32) {
	le := &p.leases[idx]
	if le.reuseEntry.prev != sentinel || le.reuseEntry.next != sentinel {
		panic("pool: lease already linked into a reuse bucket")
	}
	bucket := hashName(*le.reuseName) % p.nrLeases
	p.appendLease(&p.leases[bucket].reuseBucket, reuseEntryOf, idx)
}

func (p *Pool) hashRemove(idx uint32) {
	le := &p.leases[idx]
	bucket := hashName(*le.reuseName) % p.nrLeases
	p.remove(&p.leases[bucket].reuseBucket, reuseEntryOf, idx)
}
