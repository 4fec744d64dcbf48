// SPDX-FileCopyrightText: © 2026 Mixclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package onion implements a layered AEAD packet format.  Each hop peels
// one layer with its mix key and learns only the next hop, its delay and,
// at the terminal hop, the recipient.
package onion

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/katzenpost/hpqc/nike"

	"github.com/katzenpost/mixclient/core/path"
	"github.com/katzenpost/mixclient/core/pki"
)

const (
	// CommandLength is the length of a serialized routing command.
	CommandLength = 1 + pki.NodeIDLength + 4

	kdfInfo = "mixclient-onion-layer-v0"
)

var (
	// ErrMalformedPacket is the error returned for packets that fail to
	// decrypt or parse.
	ErrMalformedPacket = errors.New("onion: malformed packet")

	zeroNonce [chacha20poly1305.NonceSize]byte
)

// Flags describe the terminal processing of a packet.
type Flags uint8

const (
	// FlagTerminal is set on the command of the last hop.
	FlagTerminal Flags = 1 << iota

	// FlagSURBReply marks a packet whose payload is an acknowledgement for
	// the recipient.
	FlagSURBReply

	// FlagHasSURBAck marks a packet whose payload starts with an
	// acknowledgement packet the terminal hop forwards on delivery.
	FlagHasSURBAck
)

// Command is the routing information revealed to a single hop.
type Command struct {
	Flags Flags

	// ID is the next hop for intermediate hops, and the recipient for the
	// terminal hop.
	ID [pki.NodeIDLength]byte

	// Delay is the mixing delay in milliseconds.
	Delay uint32
}

// IsTerminal returns true iff the command belongs to the last hop.
func (c *Command) IsTerminal() bool {
	return c.Flags&FlagTerminal != 0
}

func (c *Command) bytes() []byte {
	b := make([]byte, CommandLength)
	b[0] = byte(c.Flags)
	copy(b[1:], c.ID[:])
	binary.BigEndian.PutUint32(b[1+pki.NodeIDLength:], c.Delay)
	return b
}

func commandFromBytes(b []byte) *Command {
	c := &Command{
		Flags: Flags(b[0]),
		Delay: binary.BigEndian.Uint32(b[1+pki.NodeIDLength:]),
	}
	copy(c.ID[:], b[1:])
	return c
}

// Geometry fixes the lengths of every packet of one kind.
type Geometry struct {
	// NrHops is the number of hops, including the terminal gateway.
	NrHops int

	// PayloadLength is the length of the innermost payload.
	PayloadLength int

	// Scheme is the NIKE used for the per hop key agreement.
	Scheme nike.Scheme
}

// LayerOverhead returns the number of bytes each hop adds.
func (g *Geometry) LayerOverhead() int {
	return g.Scheme.PublicKeySize() + CommandLength + chacha20poly1305.Overhead
}

// PacketLength returns the length of a packet as sent to the first hop.
func (g *Geometry) PacketLength() int {
	return g.NrHops*g.LayerOverhead() + g.PayloadLength
}

// Validate checks the geometry for consistency.
func (g *Geometry) Validate() error {
	switch {
	case g.Scheme == nil:
		return errors.New("onion: geometry has no NIKE scheme")
	case g.NrHops < 1:
		return fmt.Errorf("onion: invalid hop count: %d", g.NrHops)
	case g.PayloadLength < 1:
		return fmt.Errorf("onion: invalid payload length: %d", g.PayloadLength)
	}
	return nil
}

// NewPacket wraps payload for the given path.  The terminal command flags
// and recipient are supplied by the caller; the delay of each command comes
// from the path.
func (g *Geometry) NewPacket(rng io.Reader, p []*path.PathHop, terminal *Command, payload []byte) ([]byte, error) {
	if len(p) != g.NrHops {
		return nil, fmt.Errorf("onion: path has %d hops, geometry expects %d", len(p), g.NrHops)
	}
	if len(payload) != g.PayloadLength {
		return nil, fmt.Errorf("onion: payload is %d bytes, geometry expects %d", len(payload), g.PayloadLength)
	}

	inner := payload
	for i := len(p) - 1; i >= 0; i-- {
		cmd := &Command{Delay: p[i].Delay}
		if i == len(p)-1 {
			cmd.Flags = terminal.Flags | FlagTerminal
			cmd.ID = terminal.ID
		} else {
			cmd.ID = p[i+1].ID
		}

		ephPub, ephPriv, err := g.Scheme.GenerateKeyPairFromEntropy(rng)
		if err != nil {
			return nil, err
		}
		key, err := g.layerKey(ephPriv, p[i].PublicKey, ephPub.Bytes())
		ephPriv.Reset()
		if err != nil {
			return nil, err
		}
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, err
		}

		pt := append(cmd.bytes(), inner...)
		out := make([]byte, 0, len(pt)+g.LayerOverhead())
		out = append(out, ephPub.Bytes()...)
		inner = aead.Seal(out, zeroNonce[:], pt, nil)
	}
	return inner, nil
}

// Unwrap removes one layer of encryption with the hop's private key and
// returns the routing command and the inner packet.  Packet bytes are
// untrusted, every failure is reported as ErrMalformedPacket.
func (g *Geometry) Unwrap(privKey nike.PrivateKey, pkt []byte) (*Command, []byte, error) {
	pkLen := g.Scheme.PublicKeySize()
	if len(pkt) < g.LayerOverhead() {
		return nil, nil, fmt.Errorf("%w: truncated (%d bytes)", ErrMalformedPacket, len(pkt))
	}
	ephPub, err := g.Scheme.UnmarshalBinaryPublicKey(pkt[:pkLen])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	key, err := g.layerKey(privKey, ephPub, pkt[:pkLen])
	if err != nil {
		return nil, nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, err
	}
	pt, err := aead.Open(nil, zeroNonce[:], pkt[pkLen:], nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	return commandFromBytes(pt[:CommandLength]), pt[CommandLength:], nil
}

// layerKey derives the AEAD key of one layer.  Every layer uses a fresh
// ephemeral key, so the all zero nonce is never reused under a key.
func (g *Geometry) layerKey(priv nike.PrivateKey, pub nike.PublicKey, ephPub []byte) (key []byte, err error) {
	defer func() {
		// Low order points make the X25519 implementation panic.
		if r := recover(); r != nil {
			key, err = nil, fmt.Errorf("%w: key agreement failed: %v", ErrMalformedPacket, r)
		}
	}()
	secret := g.Scheme.DeriveSecret(priv, pub)
	key = make([]byte, chacha20poly1305.KeySize)
	if _, err = io.ReadFull(hkdf.New(sha256.New, secret, ephPub, []byte(kdfInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}
