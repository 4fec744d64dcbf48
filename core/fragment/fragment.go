// SPDX-FileCopyrightText: Copyright (C) 2017  Yawning Angel.
// SPDX-License-Identifier: AGPL-3.0-only

// Package fragment splits messages into fixed capacity fragments that each
// fit into a single packet payload, and reassembles them on receipt.
package fragment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// MaxFragmentsPerSet is the number of fragments in every non-terminal set.
	MaxFragmentsPerSet = math.MaxUint8

	// MaxSetID is the largest valid set identifier.
	MaxSetID = math.MaxInt32

	// CoverSetID is the set identifier reserved for cover traffic.
	CoverSetID = 0

	// UnlinkedHeaderLength is the header length of a fragment that does not
	// reference a neighbouring set.
	UnlinkedHeaderLength = 7

	// LinkedHeaderLength is the header length of a fragment that bridges
	// two consecutive sets.
	LinkedHeaderLength = UnlinkedHeaderLength + 4

	setIDOffset       = 0
	totalOffset       = 4
	indexOffset       = 5
	linkOffset        = 6
	linkedSetIDOffset = 7

	reservedBit = 1 << 31
)

var (
	// ErrMalformedFragment is the error returned for fragments whose header
	// or payload is inconsistent.
	ErrMalformedFragment = errors.New("fragment: malformed fragment")

	// ErrMessageTooLarge is the error returned when a message can not be
	// encoded in the set identifier space.
	ErrMessageTooLarge = errors.New("fragment: message too large")
)

// Link describes which neighbouring set, if any, a fragment references.
type Link uint8

const (
	// LinkNone is used by every fragment that does not bridge two sets.
	LinkNone Link = 0x00

	// LinkNext is used by the last fragment of a non-terminal set.
	LinkNext Link = 0x01

	// LinkPrevious is used by the first fragment of a non-initial set.
	LinkPrevious Link = 0x02
)

func (l Link) String() string {
	switch l {
	case LinkNone:
		return "none"
	case LinkNext:
		return "next"
	case LinkPrevious:
		return "previous"
	default:
		return fmt.Sprintf("invalid(0x%02x)", uint8(l))
	}
}

// Fragment is a single piece of a message.
type Fragment struct {
	// SetID is the identifier of the set the fragment belongs to.
	SetID int32

	// Total is the number of fragments in the set.
	Total uint8

	// Index is the 1-based position of the fragment within the set.
	Index uint8

	// Link and LinkedSetID reference the neighbouring set.
	Link        Link
	LinkedSetID int32

	// Payload is the slice of the message carried by the fragment.
	Payload []byte
}

// ID returns the fragment identifier.
func (f *Fragment) ID() ID {
	return ID{
		SetID: f.SetID,
		Total: f.Total,
		Index: f.Index,
	}
}

// HeaderLength returns the length of the serialized header.
func (f *Fragment) HeaderLength() int {
	if f.Link == LinkNone {
		return UnlinkedHeaderLength
	}
	return LinkedHeaderLength
}

// IsFinal returns true iff the fragment is the last one of its set.
func (f *Fragment) IsFinal() bool {
	return f.Index == f.Total
}

// Clone returns a deep copy of the fragment.
func (f *Fragment) Clone() *Fragment {
	c := *f
	c.Payload = make([]byte, len(f.Payload))
	copy(c.Payload, f.Payload)
	return &c
}

// Validate checks the consistency of the header fields.
func (f *Fragment) Validate() error {
	if f.SetID <= CoverSetID {
		return fmt.Errorf("%w: invalid set id %d", ErrMalformedFragment, f.SetID)
	}
	if f.Total == 0 {
		return fmt.Errorf("%w: empty set", ErrMalformedFragment)
	}
	if f.Index == 0 || f.Index > f.Total {
		return fmt.Errorf("%w: index %d outside of set of %d", ErrMalformedFragment, f.Index, f.Total)
	}

	switch f.Link {
	case LinkNone:
		if f.LinkedSetID != 0 {
			return fmt.Errorf("%w: linked set id without a link", ErrMalformedFragment)
		}
		return nil
	case LinkNext:
		// Only full sets may be followed by another set.
		if f.Index != f.Total || f.Total != MaxFragmentsPerSet {
			return fmt.Errorf("%w: next link on fragment %d/%d", ErrMalformedFragment, f.Index, f.Total)
		}
	case LinkPrevious:
		if f.Index != 1 {
			return fmt.Errorf("%w: previous link on fragment %d/%d", ErrMalformedFragment, f.Index, f.Total)
		}
	default:
		return fmt.Errorf("%w: link %v", ErrMalformedFragment, f.Link)
	}
	if f.LinkedSetID <= CoverSetID || f.LinkedSetID == f.SetID {
		return fmt.Errorf("%w: invalid linked set id %d", ErrMalformedFragment, f.LinkedSetID)
	}
	return nil
}

// MarshalBinary serializes the fragment.
func (f *Fragment) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	hdrLen := f.HeaderLength()
	b := make([]byte, hdrLen+len(f.Payload))
	binary.BigEndian.PutUint32(b[setIDOffset:], uint32(f.SetID))
	b[totalOffset] = f.Total
	b[indexOffset] = f.Index
	b[linkOffset] = byte(f.Link)
	if f.Link != LinkNone {
		binary.BigEndian.PutUint32(b[linkedSetIDOffset:], uint32(f.LinkedSetID))
	}
	copy(b[hdrLen:], f.Payload)
	return b, nil
}

// UnmarshalBinary deserializes a fragment.  The input is untrusted, every
// failure is reported as ErrMalformedFragment.
func (f *Fragment) UnmarshalBinary(b []byte) error {
	if len(b) < UnlinkedHeaderLength {
		return fmt.Errorf("%w: truncated header (%d bytes)", ErrMalformedFragment, len(b))
	}

	rawSetID := binary.BigEndian.Uint32(b[setIDOffset:])
	if rawSetID&reservedBit != 0 {
		return fmt.Errorf("%w: reserved bit set", ErrMalformedFragment)
	}
	nf := Fragment{
		SetID: int32(rawSetID),
		Total: b[totalOffset],
		Index: b[indexOffset],
		Link:  Link(b[linkOffset]),
	}

	hdrLen := nf.HeaderLength()
	if len(b) < hdrLen {
		return fmt.Errorf("%w: truncated linked header (%d bytes)", ErrMalformedFragment, len(b))
	}
	if nf.Link != LinkNone {
		rawLinked := binary.BigEndian.Uint32(b[linkedSetIDOffset:])
		if rawLinked&reservedBit != 0 {
			return fmt.Errorf("%w: reserved bit set in linked set id", ErrMalformedFragment)
		}
		nf.LinkedSetID = int32(rawLinked)
	}
	if err := nf.Validate(); err != nil {
		return err
	}

	nf.Payload = make([]byte, len(b)-hdrLen)
	copy(nf.Payload, b[hdrLen:])
	*f = nf
	return nil
}

// FromBytes deserializes a fragment.
func FromBytes(b []byte) (*Fragment, error) {
	f := new(Fragment)
	if err := f.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return f, nil
}

// IsCover returns true iff the serialized fragment is cover traffic.
func IsCover(b []byte) bool {
	return len(b) >= UnlinkedHeaderLength && binary.BigEndian.Uint32(b[setIDOffset:]) == CoverSetID
}
