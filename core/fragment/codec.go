// SPDX-FileCopyrightText: © 2026 Mixclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package fragment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/katzenpost/hpqc/rand"
)

const maxSetIDAttempts = 1024

var errSetIDExhausted = errors.New("fragment: failed to draw a free set id")

// Option is a Codec option.
type Option func(*Codec)

// WithRand sets the entropy source used to draw set identifiers.
func WithRand(r io.Reader) Option {
	return func(c *Codec) {
		c.rng = r
	}
}

// WithMaxSets bounds the number of sets a single message may span.
func WithMaxSets(n int) Option {
	return func(c *Codec) {
		c.maxSets = n
	}
}

// WithSetIDFilter installs a predicate that returns true for set
// identifiers that must not be drawn, typically ones that are still
// awaiting acknowledgement.
func WithSetIDFilter(fn func(int32) bool) Option {
	return func(c *Codec) {
		c.inUse = fn
	}
}

// Codec splits messages into fragments of a fixed maximum serialized size.
type Codec struct {
	maxFragmentLength int
	maxSets           int
	rng               io.Reader
	inUse             func(int32) bool
}

// NewCodec returns a Codec producing fragments of at most maxFragmentLength
// bytes including the header.
func NewCodec(maxFragmentLength int, opts ...Option) (*Codec, error) {
	if maxFragmentLength <= LinkedHeaderLength {
		return nil, fmt.Errorf("fragment: maximum fragment length %d too small", maxFragmentLength)
	}
	c := &Codec{
		maxFragmentLength: maxFragmentLength,
		maxSets:           MaxSetID,
		rng:               rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxSets < 1 {
		return nil, fmt.Errorf("fragment: invalid maximum set count %d", c.maxSets)
	}
	return c, nil
}

// MaxFragmentLength returns the maximum serialized fragment length.
func (c *Codec) MaxFragmentLength() int {
	return c.maxFragmentLength
}

// UnlinkedPayloadLength returns the payload capacity of a fragment without
// a link.
func (c *Codec) UnlinkedPayloadLength() int {
	return c.maxFragmentLength - UnlinkedHeaderLength
}

// LinkedPayloadLength returns the payload capacity of a fragment that
// bridges two sets.
func (c *Codec) LinkedPayloadLength() int {
	return c.maxFragmentLength - LinkedHeaderLength
}

func (c *Codec) firstSetLength() int64 {
	return int64(MaxFragmentsPerSet-1)*int64(c.UnlinkedPayloadLength()) + int64(c.LinkedPayloadLength())
}

func (c *Codec) middleSetLength() int64 {
	return int64(MaxFragmentsPerSet-2)*int64(c.UnlinkedPayloadLength()) + 2*int64(c.LinkedPayloadLength())
}

// MaxMessageLength returns the length of the largest message the Codec
// will accept.
func (c *Codec) MaxMessageLength() int {
	single := int64(MaxFragmentsPerSet) * int64(c.UnlinkedPayloadLength())
	if c.maxSets == 1 {
		return int(single)
	}
	// A terminal set holds as much as the first one.
	l := 2*c.firstSetLength() + int64(c.maxSets-2)*c.middleSetLength()
	if l > math.MaxInt || l < 0 {
		return math.MaxInt
	}
	return int(l)
}

// Layout returns the number of fragments in each set for a message of
// the given length.
func (c *Codec) Layout(length int) ([]int, error) {
	if length < 0 {
		return nil, fmt.Errorf("fragment: negative message length")
	}
	c0 := int64(c.UnlinkedPayloadLength())
	c1 := int64(c.LinkedPayloadLength())
	l := int64(length)

	if l <= MaxFragmentsPerSet*c0 {
		n := ceilDiv(l, c0)
		if n == 0 {
			n = 1
		}
		return []int{int(n)}, nil
	}

	first := c.firstSetLength()
	middle := c.middleSetLength()
	r := l - first
	var m int64
	if r > first {
		m = ceilDiv(r-first, middle)
	}
	if m+2 > int64(c.maxSets) {
		return nil, ErrMessageTooLarge
	}
	r -= m * middle

	last := int64(1)
	if r > c1 {
		last += ceilDiv(r-c1, c0)
	}

	layout := make([]int, 0, m+2)
	for i := int64(0); i < m+1; i++ {
		layout = append(layout, MaxFragmentsPerSet)
	}
	return append(layout, int(last)), nil
}

// Split splits msg into fragments, in transmission order.
func (c *Codec) Split(msg []byte) ([]*Fragment, error) {
	layout, err := c.Layout(len(msg))
	if err != nil {
		return nil, err
	}
	ids, err := c.drawSetIDs(len(layout))
	if err != nil {
		return nil, err
	}

	nFrags := 0
	for _, n := range layout {
		nFrags += n
	}
	frags := make([]*Fragment, 0, nFrags)

	off := 0
	lastSet := len(layout) - 1
	for s, n := range layout {
		for i := 1; i <= n; i++ {
			f := &Fragment{
				SetID: ids[s],
				Total: uint8(n),
				Index: uint8(i),
			}
			capacity := c.UnlinkedPayloadLength()
			switch {
			case i == 1 && s > 0:
				f.Link = LinkPrevious
				f.LinkedSetID = ids[s-1]
				capacity = c.LinkedPayloadLength()
			case i == n && s < lastSet:
				f.Link = LinkNext
				f.LinkedSetID = ids[s+1]
				capacity = c.LinkedPayloadLength()
			}
			end := off + capacity
			if end > len(msg) {
				end = len(msg)
			}
			f.Payload = make([]byte, end-off)
			copy(f.Payload, msg[off:end])
			off = end
			frags = append(frags, f)
		}
	}
	return frags, nil
}

func (c *Codec) drawSetIDs(n int) ([]int32, error) {
	ids := make([]int32, 0, n)
	seen := make(map[int32]struct{}, n)
	var b [4]byte
	for len(ids) < n {
		attempts := 0
		for {
			if attempts++; attempts > maxSetIDAttempts {
				return nil, errSetIDExhausted
			}
			if _, err := io.ReadFull(c.rng, b[:]); err != nil {
				return nil, err
			}
			id := int32(binary.BigEndian.Uint32(b[:]) &^ reservedBit)
			if id == CoverSetID {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			if c.inUse != nil && c.inUse(id) {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
			break
		}
	}
	return ids, nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
