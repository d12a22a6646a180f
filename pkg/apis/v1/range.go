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

// Package v1 holds the configuration types that describe an address
// pool before it is installed into a registry.
package v1

import (
	"fmt"
	"math"
	"math/big"
	"net"
	"strings"

	go_cidr "github.com/apparentlymart/go-cidr/cidr"
)

// Range is a contiguous, inclusive span of IP addresses, all of the
// same family. It is the unit that a registry installs, finds, and
// checks for overlaps.
type Range struct {
	Start net.IP
	End   net.IP
}

// NewRange parses either CIDR notation ("10.0.0.0/24") or an explicit
// "first-last" span ("10.0.0.1-10.0.0.9") into a Range.
func NewRange(raw string) (Range, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "/") {
		return parseCIDR(raw)
	}
	if strings.Contains(raw, "-") {
		return parseFromTo(raw)
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return Range{}, fmt.Errorf("invalid address pool range %q", raw)
	}
	return Range{Start: ip, End: ip}, nil
}

func parseCIDR(raw string) (Range, error) {
	_, ipnet, err := net.ParseCIDR(raw)
	if err != nil {
		return Range{}, fmt.Errorf("invalid CIDR %q: %w", raw, err)
	}
	start, end := go_cidr.AddressRange(ipnet)
	return Range{Start: start, End: end}, nil
}

func parseFromTo(raw string) (Range, error) {
	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 {
		return Range{}, fmt.Errorf("invalid address pool range %q", raw)
	}
	start := net.ParseIP(strings.TrimSpace(parts[0]))
	end := net.ParseIP(strings.TrimSpace(parts[1]))
	if start == nil || end == nil {
		return Range{}, fmt.Errorf("invalid address pool range %q", raw)
	}
	if (start.To4() == nil) != (end.To4() == nil) {
		return Range{}, fmt.Errorf("range %q mixes address families", raw)
	}
	if ipCompare(start, end) > 0 {
		return Range{}, fmt.Errorf("range %q starts after it ends", raw)
	}
	return Range{Start: start, End: end}, nil
}

// Family reports "ipv4" or "ipv6".
func (r Range) Family() string {
	if r.Start.To4() != nil {
		return "ipv4"
	}
	return "ipv6"
}

// Contains reports whether ip falls within the range, inclusive.
func (r Range) Contains(ip net.IP) bool {
	return ipCompare(r.Start, ip) <= 0 && ipCompare(ip, r.End) <= 0
}

// Overlaps reports whether r and o share any address.
func (r Range) Overlaps(o Range) bool {
	return !r.disjoint(o)
}

// disjoint mirrors find_addresspool's three-way comparison: a range
// is disjoint from another only if it lies entirely before or
// entirely after it.
func (r Range) disjoint(o Range) bool {
	return ipCompare(r.End, o.Start) < 0 || ipCompare(r.Start, o.End) > 0
}

// exactMatch reports whether r and o describe the same span.
func (r Range) exactMatch(o Range) bool {
	return ipCompare(r.Start, o.Start) == 0 && ipCompare(r.End, o.End) == 0
}

// Size returns the number of addresses in the range, saturating to
// math.MaxUint32 (and reporting saturated=true) when the true count
// doesn't fit a uint32 — the pool's lease array is indexed by a
// 32-bit offset from Start, mirroring struct ip_pool's "size" field.
func (r Range) Size() (size uint32, saturated bool) {
	full := rangeSize(r.Start, r.End)
	max := big.NewInt(int64(math.MaxUint32))
	if full.Cmp(max) > 0 {
		return math.MaxUint32, true
	}
	return uint32(full.Uint64()), false
}

func rangeSize(start, end net.IP) *big.Int {
	s := new(big.Int).SetBytes(normalize(start))
	e := new(big.Int).SetBytes(normalize(end))
	size := new(big.Int).Sub(e, s)
	return size.Add(size, big.NewInt(1))
}

func (r Range) String() string {
	return fmt.Sprintf("%s-%s", r.Start, r.End)
}

func normalize(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip.To16()
}

func ipCompare(a, b net.IP) int {
	an, bn := normalize(a), normalize(b)
	if len(an) != len(bn) {
		// Different families only arise from caller error; treat the
		// longer representation as larger rather than panicking here.
		if len(an) < len(bn) {
			return -1
		}
		return 1
	}
	for i := range an {
		if an[i] != bn[i] {
			if an[i] < bn[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
