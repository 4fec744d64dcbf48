// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/mixclient/core/fragment"
)

func testEntry(setID int32, index uint8) *PendingEntry {
	return &PendingEntry{
		Fragment: &fragment.Fragment{
			SetID:   setID,
			Total:   2,
			Index:   index,
			Payload: []byte("payload"),
		},
		Recipient: &Recipient{},
		SentAt:    time.Now(),
	}
}

func TestPendingTable(t *testing.T) {
	require := require.New(t)

	tbl := NewPendingTable()
	require.Zero(tbl.Len())
	require.False(tbl.SetIDInUse(7))

	e := testEntry(7, 1)
	require.NoError(tbl.Insert(e))
	require.NoError(tbl.Insert(testEntry(7, 2)))
	require.Equal(2, tbl.Len())
	require.True(tbl.SetIDInUse(7))

	err := tbl.Insert(testEntry(7, 1))
	require.True(IsFatal(err))
	require.ErrorIs(err, ErrDuplicateEntry)
	require.Equal(2, tbl.Len())

	got, ok := tbl.Get(e.Fragment.ID())
	require.True(ok)
	got.Retransmissions = 42
	stored, _ := tbl.Get(e.Fragment.ID())
	require.Zero(stored.Retransmissions)

	require.True(tbl.Update(e.Fragment.ID(), func(e *PendingEntry) {
		e.Retransmissions++
	}))
	stored, _ = tbl.Get(e.Fragment.ID())
	require.Equal(uint32(1), stored.Retransmissions)

	removed, ok := tbl.Remove(e.Fragment.ID())
	require.True(ok)
	require.Same(e, removed)
	_, ok = tbl.Remove(e.Fragment.ID())
	require.False(ok)
	require.False(tbl.Update(e.Fragment.ID(), func(*PendingEntry) {}))
	require.True(tbl.SetIDInUse(7))

	_, ok = tbl.Remove(fragment.ID{SetID: 7, Total: 2, Index: 2})
	require.True(ok)
	require.False(tbl.SetIDInUse(7))
	require.Zero(tbl.Len())
}

func TestPendingTableInsertAll(t *testing.T) {
	require := require.New(t)

	tbl := NewPendingTable()
	require.NoError(tbl.Insert(testEntry(3, 2)))

	err := tbl.InsertAll([]*PendingEntry{testEntry(3, 1), testEntry(3, 2)})
	require.True(IsFatal(err))
	require.Equal(1, tbl.Len())

	err = tbl.InsertAll([]*PendingEntry{testEntry(5, 1), testEntry(5, 1)})
	require.ErrorIs(err, ErrDuplicateEntry)
	require.Equal(1, tbl.Len())
	require.False(tbl.SetIDInUse(5))

	require.NoError(tbl.InsertAll([]*PendingEntry{testEntry(5, 1), testEntry(5, 2), testEntry(3, 1)}))
	require.Equal(4, tbl.Len())
}
