// SPDX-FileCopyrightText: Copyright (C) 2017  Yawning Angel.
// SPDX-License-Identifier: AGPL-3.0-only

package fragment

import "fmt"

type setBuffer struct {
	total    uint8
	payloads [][]byte
	have     []bool
	received int

	prev int32
	next int32
}

func (b *setBuffer) isComplete() bool {
	return b.received == int(b.total)
}

// Reconstructor reassembles messages from fragments received in any order.
// It is not safe for concurrent use.
type Reconstructor struct {
	codec *Codec

	sets    map[int32]*setBuffer
	history map[int32]struct{}
}

// NewReconstructor returns a Reconstructor for fragments produced by a
// Codec with the same maximum fragment length.
func NewReconstructor(codec *Codec) *Reconstructor {
	return &Reconstructor{
		codec:   codec,
		sets:    make(map[int32]*setBuffer),
		history: make(map[int32]struct{}),
	}
}

// IsReconstructed returns true iff the set has already been part of a
// reassembled message.
func (r *Reconstructor) IsReconstructed(setID int32) bool {
	_, ok := r.history[setID]
	return ok
}

// Pending returns the number of sets that are still being assembled.
func (r *Reconstructor) Pending() int {
	return len(r.sets)
}

// InsertBytes deserializes and inserts a fragment.
func (r *Reconstructor) InsertBytes(b []byte) ([]byte, error) {
	f, err := FromBytes(b)
	if err != nil {
		return nil, err
	}
	return r.Insert(f)
}

// Insert adds a fragment, and returns the message iff it completed one.
// Duplicate fragments are silently dropped.
func (r *Reconstructor) Insert(f *Fragment) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if r.IsReconstructed(f.SetID) {
		return nil, nil
	}
	if err := r.checkPayloadLength(f); err != nil {
		return nil, err
	}

	buf, ok := r.sets[f.SetID]
	if !ok {
		buf = &setBuffer{
			total:    f.Total,
			payloads: make([][]byte, f.Total),
			have:     make([]bool, f.Total),
		}
		r.sets[f.SetID] = buf
	} else if buf.total != f.Total {
		return nil, fmt.Errorf("%w: set %d size changed from %d to %d", ErrMalformedFragment, f.SetID, buf.total, f.Total)
	}

	slot := int(f.Index) - 1
	if buf.have[slot] {
		return nil, nil
	}

	switch f.Link {
	case LinkPrevious:
		if buf.prev != 0 && buf.prev != f.LinkedSetID {
			return nil, fmt.Errorf("%w: set %d has conflicting previous links", ErrMalformedFragment, f.SetID)
		}
		buf.prev = f.LinkedSetID
	case LinkNext:
		if buf.next != 0 && buf.next != f.LinkedSetID {
			return nil, fmt.Errorf("%w: set %d has conflicting next links", ErrMalformedFragment, f.SetID)
		}
		buf.next = f.LinkedSetID
	}

	buf.payloads[slot] = f.Payload
	buf.have[slot] = true
	buf.received++

	if !buf.isComplete() {
		return nil, nil
	}
	return r.assemble(f.SetID)
}

func (r *Reconstructor) checkPayloadLength(f *Fragment) error {
	capacity := r.codec.UnlinkedPayloadLength()
	if f.Link != LinkNone {
		capacity = r.codec.LinkedPayloadLength()
	}
	switch {
	case len(f.Payload) > capacity:
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrMalformedFragment, len(f.Payload), capacity)
	case (!f.IsFinal() || f.Link == LinkNext) && len(f.Payload) != capacity:
		// Only the very last fragment of a message may be short.
		return fmt.Errorf("%w: short payload on fragment %v", ErrMalformedFragment, f.ID())
	}
	return nil
}

// assemble walks the chain of linked sets containing setID and, iff every
// set in it is complete, returns the concatenated message.
func (r *Reconstructor) assemble(setID int32) ([]byte, error) {
	visited := make(map[int32]struct{})

	head := setID
	for {
		visited[head] = struct{}{}
		b := r.sets[head]
		if b.prev == 0 {
			break
		}
		if _, ok := visited[b.prev]; ok {
			return nil, fmt.Errorf("%w: set chain loops at %d", ErrMalformedFragment, b.prev)
		}
		p, ok := r.sets[b.prev]
		if !ok || !p.isComplete() {
			return nil, nil
		}
		if p.next != head {
			return nil, fmt.Errorf("%w: set %d is not linked back from %d", ErrMalformedFragment, head, b.prev)
		}
		head = b.prev
	}

	chain := []int32{head}
	inChain := map[int32]struct{}{head: {}}
	for cur := head; ; {
		b := r.sets[cur]
		if b.next == 0 {
			break
		}
		if _, ok := inChain[b.next]; ok {
			return nil, fmt.Errorf("%w: set chain loops at %d", ErrMalformedFragment, b.next)
		}
		n, ok := r.sets[b.next]
		if !ok || !n.isComplete() {
			return nil, nil
		}
		if n.prev != cur {
			return nil, fmt.Errorf("%w: set %d is not linked back from %d", ErrMalformedFragment, b.next, cur)
		}
		cur = b.next
		chain = append(chain, cur)
		inChain[cur] = struct{}{}
	}

	var l int
	for _, id := range chain {
		for _, p := range r.sets[id].payloads {
			l += len(p)
		}
	}
	msg := make([]byte, 0, l)
	for _, id := range chain {
		for _, p := range r.sets[id].payloads {
			msg = append(msg, p...)
		}
		delete(r.sets, id)
		r.history[id] = struct{}{}
	}
	return msg, nil
}
