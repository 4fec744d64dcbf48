// SPDX-FileCopyrightText: © 2026 Mixclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package ack seals fragment identifiers into the opaque acknowledgement
// payloads carried back to the sender.
package ack

import (
	"crypto/cipher"
	"fmt"
	"io"

	"github.com/katzenpost/hpqc/rand"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/katzenpost/mixclient/core/fragment"
)

const (
	// KeyLength is the length of an acknowledgement key in bytes.
	KeyLength = chacha20poly1305.KeySize

	// SealedLength is the length of a sealed acknowledgement in bytes.
	SealedLength = chacha20poly1305.NonceSizeX + fragment.IDLength + chacha20poly1305.Overhead
)

// Key is the symmetric key only the sender knows, used to seal the
// identifiers of its own fragments.
type Key struct {
	raw  [KeyLength]byte
	aead cipher.AEAD
	rng  io.Reader
}

// NewKey generates a new random Key.
func NewKey(rng io.Reader) (*Key, error) {
	var raw [KeyLength]byte
	if _, err := io.ReadFull(rng, raw[:]); err != nil {
		return nil, err
	}
	return newKey(raw, rng)
}

// KeyFromBytes loads a Key from its serialized form.
func KeyFromBytes(b []byte) (*Key, error) {
	if len(b) != KeyLength {
		return nil, fmt.Errorf("ack: invalid key length: %v (Expecting %v)", len(b), KeyLength)
	}
	var raw [KeyLength]byte
	copy(raw[:], b)
	return newKey(raw, rand.Reader)
}

func newKey(raw [KeyLength]byte, rng io.Reader) (*Key, error) {
	aead, err := chacha20poly1305.NewX(raw[:])
	if err != nil {
		return nil, err
	}
	return &Key{
		raw:  raw,
		aead: aead,
		rng:  rng,
	}, nil
}

// Bytes returns the serialized key.
func (k *Key) Bytes() []byte {
	b := make([]byte, KeyLength)
	copy(b, k.raw[:])
	return b
}

// Seal returns the acknowledgement payload for the fragment identifier.
// Every call uses a fresh nonce so retransmissions are unlinkable.
func (k *Key) Seal(id fragment.ID) ([]byte, error) {
	out := make([]byte, chacha20poly1305.NonceSizeX, SealedLength)
	if _, err := io.ReadFull(k.rng, out); err != nil {
		return nil, err
	}
	return k.aead.Seal(out, out, id.Bytes(), nil), nil
}

// Open authenticates and decrypts an acknowledgement payload.  Anything
// that was not produced by Seal under this key is rejected.
func (k *Key) Open(b []byte) (fragment.ID, bool) {
	if len(b) != SealedLength {
		return fragment.ID{}, false
	}
	nonce := b[:chacha20poly1305.NonceSizeX]
	pt, err := k.aead.Open(nil, nonce, b[chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return fragment.ID{}, false
	}
	id, err := fragment.IDFromBytes(pt)
	if err != nil {
		return fragment.ID{}, false
	}
	return id, true
}
