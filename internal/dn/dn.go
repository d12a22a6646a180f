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

// Package dn implements the distinguished-name comparator: DER
// decoding via the stdlib ASN.1 decoder, RFC 4514 string rendering
// and parsing (hand-written — no third-party LDAP-DN codec exists in
// this module's dependency stack), and the three equality predicates
// id.c's same_dn/match_dn_unordered/match_dn_any_order_wild need.
package dn

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
)

// AVA is one attribute/value assertion inside an RDN: an attribute
// type OID plus its value, already decoded to a comparable string.
type AVA struct {
	Type  asn1.ObjectIdentifier
	Value string
}

// RDN is a relative distinguished name: an unordered set of AVAs.
// Multi-valued RDNs (two AVAs joined by "+") are rare but legal.
type RDN []AVA

// DN is an ordered sequence of RDNs, most-significant first, the way
// both DER and RFC 4514 represent them.
type DN []RDN

// ParseDER decodes a DER-encoded Name (RFC 5280 §4.1.2.4) into a DN.
// This is the "ASN.1 decoder" collaborator: the stdlib pkix/asn1
// pair is the only DER codec anywhere in this module's dependency
// pack, so it is used directly rather than through an adapter.
func ParseDER(der []byte) (DN, error) {
	var seq pkix.RDNSequence
	rest, err := asn1.Unmarshal(der, &seq)
	if err != nil {
		return nil, fmt.Errorf("decoding DER distinguished name: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decoding DER distinguished name: %d trailing bytes", len(rest))
	}
	out := make(DN, 0, len(seq))
	for _, set := range seq {
		rdn := make(RDN, 0, len(set))
		for _, atv := range set {
			rdn = append(rdn, AVA{Type: atv.Type, Value: stringifyValue(atv.Value)})
		}
		out = append(out, rdn)
	}
	return out, nil
}

// EncodeDER is the inverse of ParseDER, encoding every AVA value as
// a UTF8String. The any-order comparators do not use it: they
// normalize through Format/ParseLDAPString (see reencode).
func EncodeDER(d DN) ([]byte, error) {
	seq := make(pkix.RDNSequence, 0, len(d))
	for _, rdn := range d {
		set := make(pkix.RelativeDistinguishedNameSET, 0, len(rdn))
		for _, ava := range rdn {
			set = append(set, pkix.AttributeTypeAndValue{
				Type:  ava.Type,
				Value: asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagUTF8String, Bytes: []byte(ava.Value), IsCompound: false},
			})
		}
		seq = append(seq, set)
	}
	der, err := asn1.Marshal(seq)
	if err != nil {
		return nil, fmt.Errorf("encoding distinguished name: %w", err)
	}
	return der, nil
}

func stringifyValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case asn1.RawValue:
		return string(t.Bytes)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// CountWildcards counts the RDNs whose sole AVA value is the literal
// wildcard "*", matching id_count_wildcards' DN-specific branch.
func CountWildcards(der []byte) int {
	d, err := ParseDER(der)
	if err != nil {
		return 0
	}
	n := 0
	for _, rdn := range d {
		if len(rdn) == 1 && rdn[0].Value == "*" {
			n++
		}
	}
	return n
}
