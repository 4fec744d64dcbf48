// SPDX-FileCopyrightText: © 2026 Mixclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package worker

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkerHalt(t *testing.T) {
	t.Parallel()

	var w Worker
	var exited int32
	for i := 0; i < 4; i++ {
		w.Go(func() {
			<-w.HaltCh()
			atomic.AddInt32(&exited, 1)
		})
	}
	require.False(t, w.IsHalted())

	w.Halt()
	require.True(t, w.IsHalted())
	require.Equal(t, int32(4), atomic.LoadInt32(&exited))

	// A second Halt must not panic on the closed channel.
	w.Halt()
}
