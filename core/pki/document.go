// document.go - Mixnet PKI document.
// Copyright (C) 2022  David Stainton, Yawning Angel, masala.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package pki provides the mix network directory document and its
// serialization routines.
package pki

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/katzenpost/hpqc/hash"
)

const (
	// LayerGateway is the Layer that gateways list in their MixDescriptors.
	LayerGateway = 255

	// DocumentVersion identifies the document format version
	DocumentVersion = "v0"
)

var (
	// ErrInvalidVersion is the error returned when deserializing a document
	// of an unknown format.
	ErrInvalidVersion = errors.New("pki: invalid document version")

	// Create reusable EncMode interface with immutable options, safe for concurrent use.
	ccbor cbor.EncMode
)

// Document is a PKI document.  Once published a Document is never mutated,
// so a pointer to one is a consistent snapshot of the network.
type Document struct {
	// Epoch is the epoch for which this Document instance is valid for.
	Epoch uint64

	// Mu is the inverse of the mean of the exponential distribution
	// that the per-hop mixing delay will be sampled from.
	Mu float64

	// MuMaxDelay is the maximum per-hop mixing delay in milliseconds.
	MuMaxDelay uint64

	// LambdaL is the inverse of the mean of the exponential distribution
	// that clients will sample to determine the time interval between sending
	// loop cover messages.
	LambdaL float64

	// LambdaLMaxDelay is the maximum time interval in milliseconds.
	LambdaLMaxDelay uint64

	// Topology is the mix network topology, excluding gateways.
	Topology [][]*MixDescriptor

	// GatewayNodes is the list of nodes that can allow clients to interact
	// with the mix network.
	GatewayNodes []*MixDescriptor

	// Version uniquely identifies the document format as being for the
	// specified version so that it can be rejected if the format changes.
	Version string
}

// document contains fields from Document but not the encoding.BinaryMarshaler methods
type document Document

// String returns a string representation of a Document.
func (d *Document) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "&{Epoch: %v Mu: %v MuMaxDelay: %v LambdaL: %v LambdaLMaxDelay: %v\nTopology:\n", d.Epoch, d.Mu, d.MuMaxDelay, d.LambdaL, d.LambdaLMaxDelay)
	for l, nodes := range d.Topology {
		fmt.Fprintf(&b, "  [%v]{%v}\n", l, nodes)
	}
	fmt.Fprintf(&b, "GatewayNodes:[]{%v}}\n", d.GatewayNodes)
	return b.String()
}

// GetGatewayByKeyHash returns the specific gateway descriptor corresponding
// to the specified IdentityKey hash.
func (d *Document) GetGatewayByKeyHash(keyhash *[NodeIDLength]byte) (*MixDescriptor, error) {
	for _, v := range d.GatewayNodes {
		if v.IdentityKey == nil {
			return nil, fmt.Errorf("pki: document contains invalid descriptors")
		}
		idKeyHash := hash.Sum256(v.IdentityKey)
		if hmac.Equal(idKeyHash[:], keyhash[:]) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("pki: gateway not found")
}

// GetMixLayer returns the assigned layer for the given mix from Topology
func (d *Document) GetMixLayer(keyhash *[NodeIDLength]byte) (uint8, error) {
	for _, p := range d.GatewayNodes {
		idKeyHash := hash.Sum256(p.IdentityKey)
		if hmac.Equal(idKeyHash[:], keyhash[:]) {
			return LayerGateway, nil
		}
	}
	for n, l := range d.Topology {
		for _, v := range l {
			idKeyHash := hash.Sum256(v.IdentityKey)
			if hmac.Equal(idKeyHash[:], keyhash[:]) {
				return uint8(n), nil
			}
		}
	}
	return 0, fmt.Errorf("pki: mix '%x' not found", keyhash[:])
}

// ParseDocument deserializes and validates a Document.
func ParseDocument(b []byte) (*Document, error) {
	doc := new(Document)
	if err := doc.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	if err := IsDocumentWellFormed(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// IsDocumentWellFormed validates the document and returns a descriptive
// error iff there are any problems that invalidates the document.
func IsDocumentWellFormed(d *Document) error {
	if d.Version != DocumentVersion {
		return ErrInvalidVersion
	}
	if d.Mu <= 0 {
		return fmt.Errorf("Document contains invalid Mu: %v", d.Mu)
	}
	if d.LambdaL < 0 {
		return fmt.Errorf("Document contains invalid LambdaL: %v", d.LambdaL)
	}
	if len(d.Topology) == 0 {
		return fmt.Errorf("Document contains no Topology")
	}
	pks := make(map[[hash.HashSize]byte]bool)
	for layer, nodes := range d.Topology {
		if len(nodes) == 0 {
			return fmt.Errorf("Document Topology layer %d contains no nodes", layer)
		}
		for _, desc := range nodes {
			if err := IsDescriptorWellFormed(desc, d.Epoch); err != nil {
				return err
			}
			if desc.IsGatewayNode {
				return fmt.Errorf("Document lists gateway %v as a mix", desc.Name)
			}
			pk := hash.Sum256(desc.IdentityKey)
			if _, ok := pks[pk]; ok {
				return fmt.Errorf("Document contains multiple entries for %v", desc.Name)
			}
			pks[pk] = true
		}
	}
	if len(d.GatewayNodes) == 0 {
		return fmt.Errorf("Document contains no Gateway Nodes")
	}
	for _, desc := range d.GatewayNodes {
		if err := IsDescriptorWellFormed(desc, d.Epoch); err != nil {
			return err
		}
		if !desc.IsGatewayNode {
			return fmt.Errorf("Document lists %v as a Gateway with desc.IsGatewayNode = %v", desc.Name, desc.IsGatewayNode)
		}
		pk := hash.Sum256(desc.IdentityKey)
		if _, ok := pks[pk]; ok {
			return fmt.Errorf("Document contains multiple entries for %v", desc.Name)
		}
		pks[pk] = true
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler interface.
func (d *Document) MarshalBinary() ([]byte, error) {
	// Serialize a copy so that shared snapshots are never written to.
	doc := *d
	doc.Version = DocumentVersion
	return ccbor.Marshal((*document)(&doc))
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler interface.
func (d *Document) UnmarshalBinary(data []byte) error {
	if err := cbor.Unmarshal(data, (*document)(d)); err != nil {
		return err
	}
	if d.Version != DocumentVersion {
		return ErrInvalidVersion
	}
	return nil
}

// Sum256 returns the hash of the serialized document.
func (d *Document) Sum256() [32]byte {
	b, err := d.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return blake2b.Sum256(b)
}

func init() {
	var err error
	opts := cbor.CanonicalEncOptions()
	ccbor, err = opts.EncMode()
	if err != nil {
		panic(err)
	}
}
