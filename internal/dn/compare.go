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

package dn

import (
	"encoding/asn1"
	"fmt"
	"strings"
)

var shortNames = map[string]string{
	"2.5.4.3":                     "CN",
	"2.5.4.6":                     "C",
	"2.5.4.7":                     "L",
	"2.5.4.8":                     "ST",
	"2.5.4.9":                     "STREET",
	"2.5.4.10":                    "O",
	"2.5.4.11":                    "OU",
	"2.5.4.5":                     "SERIALNUMBER",
	"0.9.2342.19200300.100.1.25":  "DC",
	"0.9.2342.19200300.100.1.1":   "UID",
}

var longNames = func() map[string]string {
	m := make(map[string]string, len(shortNames))
	for oid, name := range shortNames {
		m[strings.ToUpper(name)] = oid
	}
	return m
}()

// Format renders a DN as an RFC 4514 string, most-significant RDN
// first, matching str_dn's output.
func Format(d DN) string {
	parts := make([]string, 0, len(d))
	for _, rdn := range d {
		avas := make([]string, 0, len(rdn))
		for _, ava := range rdn {
			avas = append(avas, formatAVA(ava))
		}
		parts = append(parts, strings.Join(avas, "+"))
	}
	return strings.Join(parts, ",")
}

func formatAVA(ava AVA) string {
	name := ava.Type.String()
	if short, ok := shortNames[name]; ok {
		name = short
	}
	return name + "=" + escapeValue(ava.Value)
}

func escapeValue(v string) string {
	var b strings.Builder
	for i, r := range v {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '#':
			if i == 0 {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		case ' ':
			if i == 0 || i == len(v)-1 {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseLDAPString parses an RFC 4514 DN string ("CN=foo,O=bar") into
// a DN, the same text form atodn accepts.
func ParseLDAPString(s string) (DN, error) {
	rdnStrs := splitUnescaped(s, ',')
	d := make(DN, 0, len(rdnStrs))
	for _, rdnStr := range rdnStrs {
		avaStrs := splitUnescaped(rdnStr, '+')
		rdn := make(RDN, 0, len(avaStrs))
		for _, avaStr := range avaStrs {
			ava, err := parseAVA(avaStr)
			if err != nil {
				return nil, err
			}
			rdn = append(rdn, ava)
		}
		d = append(d, rdn)
	}
	return d, nil
}

func parseAVA(s string) (AVA, error) {
	idx := unescapedIndex(s, '=')
	if idx < 0 {
		return AVA{}, fmt.Errorf("invalid attribute/value pair %q: missing '='", s)
	}
	name := strings.ToUpper(strings.TrimSpace(s[:idx]))
	value := unescape(strings.TrimSpace(s[idx+1:]))

	var oid asn1.ObjectIdentifier
	if raw, ok := longNames[name]; ok {
		oid = parseOID(raw)
	} else if looksLikeOID(name) {
		oid = parseOID(name)
	} else {
		return AVA{}, fmt.Errorf("invalid attribute/value pair %q: unknown attribute %q", s, name)
	}
	return AVA{Type: oid, Value: value}, nil
}

func looksLikeOID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

func parseOID(s string) asn1.ObjectIdentifier {
	parts := strings.Split(s, ".")
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n := 0
		for _, r := range p {
			n = n*10 + int(r-'0')
		}
		oid[i] = n
	}
	return oid
}

func splitUnescaped(s string, sep byte) []string {
	var out []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			cur.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			cur.WriteByte(c)
			escaped = true
			continue
		}
		if c == sep {
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	out = append(out, cur.String())
	return out
}

func unescapedIndex(s string, target byte) int {
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == target {
			return i
		}
	}
	return -1
}

func unescape(s string) string {
	var b strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Equal implements same_dn: the two DER-encoded names must have the
// same number of RDNs in the same order, each RDN matching as an
// unordered set of AVAs.
func Equal(aDER, bDER []byte) bool {
	a, aErr := ParseDER(aDER)
	b, bErr := ParseDER(bDER)
	if aErr != nil || bErr != nil {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if ok, _ := matchRDN(a[i], b[i], false); !ok || len(a[i]) != len(b[i]) {
			return false
		}
	}
	return true
}

// EqualAnyOrder implements same_dn_any_order: if the DNs aren't
// exactly equal, re-encode both to RFC 4514 strings and re-parse them
// before testing RDN-set equality ignoring RDN order. A failure to
// re-parse from the RFC 4514 form is a non-match, not an error.
func EqualAnyOrder(aDER, bDER []byte) bool {
	if Equal(aDER, bDER) {
		return true
	}
	a, b, ok := reencode(aDER, bDER)
	if !ok {
		return false
	}
	ok, _ = matchUnordered(a, b, false)
	return ok
}

// MatchAnyOrderWild implements match_dn_any_order_wild: first try an
// exact positional match (wildcards allowed in b's AVA values), then
// fall back to the any-order match with wildcards enabled.
func MatchAnyOrderWild(aDER, bDER []byte) (bool, int) {
	a, aErr := ParseDER(aDER)
	b, bErr := ParseDER(bDER)
	if aErr != nil || bErr != nil {
		return false, 0
	}
	if len(a) == len(b) {
		wildcards := 0
		ok := true
		for i := range a {
			rdnOK, w := matchRDN(a[i], b[i], true)
			if !rdnOK {
				ok = false
				break
			}
			wildcards += w
		}
		if ok {
			return true, wildcards
		}
	}

	ra, rb, reOK := reencode(aDER, bDER)
	if !reOK {
		return false, 0
	}
	return matchUnordered(ra, rb, true)
}

// reencode renders both DNs to RFC 4514 strings and re-parses them,
// returning ok=false if either side fails to re-parse.
func reencode(aDER, bDER []byte) (a, b DN, ok bool) {
	da, err := ParseDER(aDER)
	if err != nil {
		return nil, nil, false
	}
	db, err := ParseDER(bDER)
	if err != nil {
		return nil, nil, false
	}
	a, err = ParseLDAPString(Format(da))
	if err != nil {
		return nil, nil, false
	}
	b, err = ParseLDAPString(Format(db))
	if err != nil {
		return nil, nil, false
	}
	return a, b, true
}

// matchUnordered implements match_dn_unordered: every RDN in b must
// match some RDN in a (as an unordered AVA set), and both DNs must
// have the same number of RDNs.
func matchUnordered(a, b DN, wildcardsEnabled bool) (bool, int) {
	if len(a) != len(b) || len(b) == 0 {
		return false, 0
	}
	wildcards := 0
	matched := 0
	for _, rb := range b {
		found := false
		for _, ra := range a {
			ok, w := matchRDN(ra, rb, wildcardsEnabled)
			if ok {
				wildcards += w
				matched++
				found = true
				break
			}
		}
		if !found {
			return false, 0
		}
	}
	return matched == len(b), wildcards
}

// matchRDN implements match_rdn: every AVA in b must find an AVA in
// a with the same attribute type, matching either literally or (when
// wildcardsEnabled) against the literal value "*".
func matchRDN(a, b RDN, wildcardsEnabled bool) (bool, int) {
	if len(b) == 0 {
		return false, 0
	}
	wildcards := 0
	matched := 0
	for _, bava := range b {
		found := false
		for _, aava := range a {
			if !aava.Type.Equal(bava.Type) {
				continue
			}
			if wildcardsEnabled && bava.Value == "*" {
				wildcards++
				matched++
				found = true
				break
			}
			if aava.Value == bava.Value {
				matched++
				found = true
				break
			}
		}
		if !found {
			return false, 0
		}
	}
	return matched == len(b), wildcards
}
