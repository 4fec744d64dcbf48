// SPDX-FileCopyrightText: © 2026 Mixclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package ack

import (
	"bytes"
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/mixclient/core/fragment"
)

func TestSealOpen(t *testing.T) {
	require := require.New(t)

	k, err := NewKey(rand.Reader)
	require.NoError(err)

	id := fragment.ID{SetID: 1234, Total: 3, Index: 2}
	sealed, err := k.Seal(id)
	require.NoError(err)
	require.Len(sealed, SealedLength)

	got, ok := k.Open(sealed)
	require.True(ok)
	require.Equal(id, got)

	sealed2, err := k.Seal(id)
	require.NoError(err)
	require.False(bytes.Equal(sealed, sealed2))

	cover, err := k.Seal(fragment.CoverID)
	require.NoError(err)
	got, ok = k.Open(cover)
	require.True(ok)
	require.True(got.IsCover())
}

func TestOpenRejects(t *testing.T) {
	require := require.New(t)

	k, err := NewKey(rand.Reader)
	require.NoError(err)
	other, err := NewKey(rand.Reader)
	require.NoError(err)

	sealed, err := k.Seal(fragment.ID{SetID: 9, Total: 1, Index: 1})
	require.NoError(err)

	_, ok := other.Open(sealed)
	require.False(ok)

	tampered := append([]byte{}, sealed...)
	tampered[len(tampered)-1] ^= 0x01
	_, ok = k.Open(tampered)
	require.False(ok)

	_, ok = k.Open(sealed[:SealedLength-1])
	require.False(ok)

	_, ok = k.Open(make([]byte, SealedLength))
	require.False(ok)
}

func TestKeyFromBytes(t *testing.T) {
	require := require.New(t)

	k, err := NewKey(rand.Reader)
	require.NoError(err)

	k2, err := KeyFromBytes(k.Bytes())
	require.NoError(err)

	id := fragment.ID{SetID: 77, Total: 2, Index: 1}
	sealed, err := k.Seal(id)
	require.NoError(err)
	got, ok := k2.Open(sealed)
	require.True(ok)
	require.Equal(id, got)

	_, err = KeyFromBytes(make([]byte, 3))
	require.Error(err)
}
