// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/katzenpost/mixclient/core/fragment"
)

// PendingEntry is a sent fragment awaiting its acknowledgement.
type PendingEntry struct {
	// Fragment is kept so the fragment can be re-chunked on timeout.
	Fragment *fragment.Fragment

	// Recipient is the destination of the fragment.
	Recipient *Recipient

	// TotalDelay is the expected mixing delay of the forward and
	// acknowledgement routes of the most recent transmission.
	TotalDelay time.Duration

	// SentAt is the time of the most recent transmission.
	SentAt time.Time

	// Deadline is the time the fragment is retransmitted unless it was
	// acknowledged.
	Deadline time.Time

	// Retransmissions counts the number of times the fragment was
	// retransmitted.
	Retransmissions uint32
}

// PendingTable maps fragment identifiers to their pending entries.  It is
// shared by the input listener, the ack listener and the retransmitter.
type PendingTable struct {
	sync.RWMutex

	entries map[fragment.ID]*PendingEntry
	setRefs map[int32]int
}

// NewPendingTable returns an empty PendingTable.
func NewPendingTable() *PendingTable {
	return &PendingTable{
		entries: make(map[fragment.ID]*PendingEntry),
		setRefs: make(map[int32]int),
	}
}

// Insert adds e.  An occupied identifier is an invariant violation and
// returns a *FatalError wrapping ErrDuplicateEntry.
func (t *PendingTable) Insert(e *PendingEntry) error {
	t.Lock()
	defer t.Unlock()
	if err := t.checkFree(e); err != nil {
		return err
	}
	t.insert(e)
	return nil
}

// InsertAll adds every entry, or none of them.
func (t *PendingTable) InsertAll(es []*PendingEntry) error {
	t.Lock()
	defer t.Unlock()

	seen := make(map[fragment.ID]struct{}, len(es))
	for _, e := range es {
		if err := t.checkFree(e); err != nil {
			return err
		}
		id := e.Fragment.ID()
		if _, ok := seen[id]; ok {
			return &FatalError{Op: "insert pending entries", Err: fmt.Errorf("%w: %v", ErrDuplicateEntry, id)}
		}
		seen[id] = struct{}{}
	}
	for _, e := range es {
		t.insert(e)
	}
	return nil
}

func (t *PendingTable) checkFree(e *PendingEntry) error {
	id := e.Fragment.ID()
	if _, ok := t.entries[id]; ok {
		return &FatalError{Op: "insert pending entry", Err: fmt.Errorf("%w: %v", ErrDuplicateEntry, id)}
	}
	return nil
}

func (t *PendingTable) insert(e *PendingEntry) {
	t.entries[e.Fragment.ID()] = e
	t.setRefs[e.Fragment.SetID]++
}

// Remove deletes and returns the entry for id, if any.
func (t *PendingTable) Remove(id fragment.ID) (*PendingEntry, bool) {
	t.Lock()
	defer t.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	delete(t.entries, id)
	if t.setRefs[id.SetID]--; t.setRefs[id.SetID] <= 0 {
		delete(t.setRefs, id.SetID)
	}
	return e, true
}

// Get returns a copy of the entry for id.
func (t *PendingTable) Get(id fragment.ID) (PendingEntry, bool) {
	t.RLock()
	defer t.RUnlock()
	e, ok := t.entries[id]
	if !ok {
		return PendingEntry{}, false
	}
	return *e, true
}

// Update applies fn to the entry for id under the table lock.  It returns
// false if the entry is gone.
func (t *PendingTable) Update(id fragment.ID, fn func(*PendingEntry)) bool {
	t.Lock()
	defer t.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return false
	}
	fn(e)
	return true
}

// Len returns the number of pending entries.
func (t *PendingTable) Len() int {
	t.RLock()
	defer t.RUnlock()
	return len(t.entries)
}

// SetIDInUse returns true iff a pending fragment belongs to the set.
func (t *PendingTable) SetIDInUse(setID int32) bool {
	t.RLock()
	defer t.RUnlock()
	return t.setRefs[setID] > 0
}
