// SPDX-FileCopyrightText: © 2026 Mixclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package fragment

import (
	"encoding/binary"
	"fmt"
)

// IDLength is the length of a serialized fragment identifier in bytes.
const IDLength = 6

// ID identifies a fragment.  It is derived from the fragment header so that
// the sender and the recipient compute the same value without it ever being
// sent on the wire, and it stays the same across retransmissions.
type ID struct {
	SetID int32
	Total uint8
	Index uint8
}

// CoverID is the identifier carried by the acknowledgements of cover
// traffic.  No real fragment ever has it.
var CoverID = ID{SetID: CoverSetID}

// IsCover returns true iff the identifier belongs to cover traffic.
func (id ID) IsCover() bool {
	return id.SetID == CoverSetID
}

// Bytes serializes the identifier.
func (id ID) Bytes() []byte {
	b := make([]byte, IDLength)
	binary.BigEndian.PutUint32(b[0:], uint32(id.SetID))
	b[4] = id.Total
	b[5] = id.Index
	return b
}

// String returns a human readable representation of the identifier.
func (id ID) String() string {
	return fmt.Sprintf("%d:%d/%d", id.SetID, id.Index, id.Total)
}

// IDFromBytes deserializes an identifier.
func IDFromBytes(b []byte) (ID, error) {
	if len(b) != IDLength {
		return ID{}, fmt.Errorf("fragment: invalid identifier length: %v (Expecting %v)", len(b), IDLength)
	}
	id := ID{
		SetID: int32(binary.BigEndian.Uint32(b[0:])),
		Total: b[4],
		Index: b[5],
	}
	if id.SetID < 0 {
		return ID{}, fmt.Errorf("fragment: identifier has the reserved bit set")
	}
	return id, nil
}
