// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/katzenpost/mixclient/core/pki"
)

// RecipientLength is the length of a serialized Recipient.
const RecipientLength = 2 * pki.NodeIDLength

// Recipient is a mixnet address: the gateway a client is registered
// with, and the client's identifier at that gateway.
type Recipient struct {
	Gateway  [pki.NodeIDLength]byte
	ClientID [pki.NodeIDLength]byte
}

// String returns the "<client>@<gateway>" hex form of the address.
func (r *Recipient) String() string {
	return hex.EncodeToString(r.ClientID[:]) + "@" + hex.EncodeToString(r.Gateway[:])
}

// Bytes returns the serialized address, gateway first.
func (r *Recipient) Bytes() []byte {
	b := make([]byte, 0, RecipientLength)
	b = append(b, r.Gateway[:]...)
	return append(b, r.ClientID[:]...)
}

// RecipientFromBytes deserializes an address produced by Bytes.
func RecipientFromBytes(b []byte) (*Recipient, error) {
	if len(b) != RecipientLength {
		return nil, fmt.Errorf("client: invalid recipient length: %v (Expecting %v)", len(b), RecipientLength)
	}
	r := new(Recipient)
	copy(r.Gateway[:], b[:pki.NodeIDLength])
	copy(r.ClientID[:], b[pki.NodeIDLength:])
	return r, nil
}

// RecipientFromString parses the "<client>@<gateway>" hex form.
func RecipientFromString(s string) (*Recipient, error) {
	client, gateway, ok := strings.Cut(s, "@")
	if !ok {
		return nil, fmt.Errorf("client: recipient '%v' has no gateway", s)
	}
	r := new(Recipient)
	if err := decodeID(r.ClientID[:], client); err != nil {
		return nil, err
	}
	if err := decodeID(r.Gateway[:], gateway); err != nil {
		return nil, err
	}
	return r, nil
}

func decodeID(dst []byte, s string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("client: invalid recipient identifier: %v", err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("client: invalid recipient identifier length: %v", len(b))
	}
	copy(dst, b)
	return nil
}
