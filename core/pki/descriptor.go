// descriptor.go - Mixnet node descriptor s11n.
// Copyright (C) 2022  Yawning Angel, masala, David Stainton
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

package pki

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/net/idna"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/nike"
)

const (
	// DescriptorVersion identifies the descriptor format version.
	DescriptorVersion = "v0"

	// NodeIDLength is the length of a node identifier, the hash of the
	// node's IdentityKey.
	NodeIDLength = hash.HashSize

	// MaxNameLength is the maximum length of a node Name.
	MaxNameLength = 64
)

var (
	// TransportInvalid is the invalid transport.
	TransportInvalid string

	// TransportTCP is TCP, with the IP version determined by the results of
	// a name server lookup.
	TransportTCP = "tcp"

	// TransportTCPv4 is TCP over IPv4.
	TransportTCPv4 = "tcp4"

	// TransportTCPv6 is TCP over IPv6.
	TransportTCPv6 = "tcp6"
)

// MixDescriptor is a description of a given mix or gateway node.
type MixDescriptor struct {
	// Name is the human readable (descriptive) node identifier.
	Name string

	// Epoch is the Epoch in which this descriptor was created
	Epoch uint64

	// IdentityKey is the node's identity key.  Its hash is the node ID.
	IdentityKey []byte

	// MixKey is the node's packet processing public key.
	MixKey []byte

	// Addresses is the map of transport to address combinations that can
	// be used to reach the node.
	Addresses map[string][]string

	// IsGatewayNode indicates that clients attach to this node.
	IsGatewayNode bool

	// Version uniquely identifies the descriptor format as being for the
	// specified version so that it can be rejected if the format changes.
	Version string
}

type mixdescriptor MixDescriptor

// ID returns the node identifier.
func (d *MixDescriptor) ID() [NodeIDLength]byte {
	return hash.Sum256(d.IdentityKey)
}

// UnmarshalMixKey deserializes the MixKey with the given NIKE scheme.
func (d *MixDescriptor) UnmarshalMixKey(s nike.Scheme) (nike.PublicKey, error) {
	return s.UnmarshalBinaryPublicKey(d.MixKey)
}

// String returns a human readable MixDescriptor suitable for terse logging.
func (d *MixDescriptor) String() string {
	id := d.ID()
	return fmt.Sprintf("{%s %x %v}", d.Name, id[:8], d.Addresses)
}

// MarshalBinary implmements encoding.BinaryMarshaler
func (d *MixDescriptor) MarshalBinary() ([]byte, error) {
	return ccbor.Marshal((*mixdescriptor)(d))
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler interface
func (d *MixDescriptor) UnmarshalBinary(data []byte) error {
	return cbor.Unmarshal(data, (*mixdescriptor)(d))
}

// IsDescriptorWellFormed validates the descriptor and returns a descriptive
// error iff there are any problems that would make it unusable as part of
// a PKI Document.
func IsDescriptorWellFormed(d *MixDescriptor, epoch uint64) error {
	if d.Name == "" {
		return fmt.Errorf("Descriptor missing Name")
	}
	if len(d.Name) > MaxNameLength {
		return fmt.Errorf("Descriptor Name '%v' exceeds max length", d.Name)
	}
	if d.IdentityKey == nil {
		return fmt.Errorf("Descriptor missing IdentityKey")
	}
	if d.MixKey == nil {
		return fmt.Errorf("Descriptor missing MixKey")
	}
	if d.Epoch != epoch {
		return fmt.Errorf("Descriptor for epoch %v listed in epoch %v", d.Epoch, epoch)
	}
	if len(d.Addresses) == 0 {
		return fmt.Errorf("Descriptor missing Addresses")
	}
	for transport, addrs := range d.Addresses {
		if len(addrs) == 0 {
			return fmt.Errorf("Descriptor contains empty Address list for transport '%v'", transport)
		}

		var expectedIPVer int
		switch transport {
		case TransportInvalid:
			return fmt.Errorf("Descriptor contains invalid Transport")
		case TransportTCPv4:
			expectedIPVer = 4
		case TransportTCPv6:
			expectedIPVer = 6
		case TransportTCP:
		default:
			// Unknown transports are only supported between the client and
			// gateway.
			if !d.IsGatewayNode {
				return fmt.Errorf("Non-gateway published Transport '%v'", transport)
			}
			continue
		}

		for _, v := range addrs {
			if err := validateAddress(v, expectedIPVer); err != nil {
				return fmt.Errorf("Descriptor contains invalid address ['%v']'%v': %v", transport, v, err)
			}
		}
	}
	return nil
}

func validateAddress(addr string, expectedIPVer int) error {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if len(h) == 0 {
		return fmt.Errorf("missing host")
	}
	if port, err := strconv.ParseUint(p, 10, 16); err != nil {
		return err
	} else if port == 0 {
		return fmt.Errorf("port is 0")
	}
	switch expectedIPVer {
	case 4, 6:
		ver, err := getIPVer(h)
		if err != nil {
			return err
		}
		if ver != expectedIPVer {
			return fmt.Errorf("IP version mismatch")
		}
	default:
		// DNS style hostnames must at least be somewhat well formed.
		if _, err := idna.Lookup.ToASCII(h); err != nil {
			return err
		}
	}
	return nil
}

func getIPVer(h string) (int, error) {
	ip := net.ParseIP(h)
	if ip != nil {
		switch {
		case ip.To4() != nil:
			return 4, nil
		case ip.To16() != nil:
			return 6, nil
		default:
		}
	}
	return 0, fmt.Errorf("address is not an IP")
}
