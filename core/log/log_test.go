// SPDX-FileCopyrightText: © 2026 Mixclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"
)

func TestBackendFile(t *testing.T) {
	t.Parallel()

	f := filepath.Join(t.TempDir(), "client.log")
	b, err := New(f, "info", false)
	require.NoError(t, err)

	l := b.GetLogger("test/file")
	l.Info("hello world")
	l.Debug("not written")
	require.NoError(t, b.Close())

	raw, err := os.ReadFile(f)
	require.NoError(t, err)
	require.Contains(t, string(raw), "test/file: hello world")
	require.NotContains(t, string(raw), "not written")
}

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	lvl, err := LevelFromString("warning")
	require.NoError(t, err)
	require.Equal(t, logging.WARNING, lvl)

	_, err = LevelFromString("LOUD")
	require.Error(t, err)

	_, err = New("", "LOUD", true)
	require.Error(t, err)
}
