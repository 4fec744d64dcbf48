// SPDX-FileCopyrightText: Copyright (C) 2018-2023  Yawning Angel, David Stainton.
// SPDX-License-Identifier: AGPL-3.0-only

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	require := require.New(t)

	cfg, err := LoadFile("testdata/client.toml")
	require.NoError(err)
	require.Equal("DEBUG", cfg.Logging.Level)
	require.Equal(4, cfg.Geometry.NrHops)
	require.Equal(2048, cfg.Geometry.PacketPayloadLength)
	require.Equal(5*time.Second, cfg.Debug.RoundTripTimeSlopDuration())
	require.Equal(10, cfg.Debug.MaxRetransmissions)
	require.Equal(defaultInputQueueLength, cfg.Debug.InputQueueLength)
	require.Equal("127.0.0.1:6543", cfg.Debug.MetricsAddress)

	t.Logf("cfg %v", cfg)
}

func TestConfigDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := Load([]byte("[Geometry]\n"))
	require.NoError(err)
	require.Equal(defaultLogLevel, cfg.Logging.Level)
	require.Equal(defaultNrHops, cfg.Geometry.NrHops)
	require.Equal(defaultPacketPayloadLength, cfg.Geometry.PacketPayloadLength)
	require.Equal(defaultRoundTripTimeSlop, cfg.Debug.RoundTripTimeSlop)
	require.Equal(defaultReceiveQueueLength, cfg.Debug.ReceiveQueueLength)
	require.Zero(cfg.Debug.MaxRetransmissions)
	require.False(cfg.Debug.DisableCoverTraffic)
}

func TestConfigInvalid(t *testing.T) {
	_, err := Load([]byte(""))
	require.Error(t, err)

	_, err = Load([]byte("[Geometry]\n[Logging]\nLevel = \"LOUD\"\n"))
	require.Error(t, err)

	_, err = Load([]byte("[Geometry]\nNrHops = -1\n"))
	require.Error(t, err)

	_, err = Load([]byte("[Geometry]\n[Debug]\nMaxRetransmissions = -3\n"))
	require.Error(t, err)

	_, err = Load([]byte("not = [toml"))
	require.Error(t, err)
}
