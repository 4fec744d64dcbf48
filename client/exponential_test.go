// SPDX-FileCopyrightText: Copyright (C) 2024 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponential(t *testing.T) {
	rate := 0.05
	maxDelay := uint64(100)
	e := NewExpDist()
	defer e.Halt()

	e.UpdateRate(uint64(1/rate), maxDelay)
	e.SetEnabled(true)

	fired := 0
	for i := 0; i < 3; i++ {
		select {
		case <-e.OutCh():
			fired++
		case <-time.After(2 * time.Second):
		}
	}
	require.Equal(t, 3, fired)
}

func TestExponentialDisabled(t *testing.T) {
	e := NewExpDist()
	defer e.Halt()

	e.UpdateRate(1, 1)
	e.SetEnabled(true)
	<-e.OutCh()
	e.SetEnabled(false)

	// Drain a tick that raced with disabling.
	time.Sleep(50 * time.Millisecond)
	select {
	case <-e.OutCh():
	default:
	}
	require.Never(t, func() bool {
		select {
		case <-e.OutCh():
			return true
		default:
			return false
		}
	}, 200*time.Millisecond, 10*time.Millisecond)
}
