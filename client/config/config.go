// SPDX-FileCopyrightText: Copyright (C) 2018-2023  Yawning Angel, David Stainton.
// SPDX-License-Identifier: AGPL-3.0-only

// Package config implements the configuration for the mixnet client.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultLogLevel            = "NOTICE"
	defaultNrHops              = 4
	defaultPacketPayloadLength = 2048
	defaultRoundTripTimeSlop   = 10000
	defaultInputQueueLength    = 16
	defaultReceiveQueueLength  = 64
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Geometry is the packet geometry.  Every client and node of a network
// must agree on it.
type Geometry struct {
	// NrHops is the number of hops of every route, the mix layers plus
	// the terminal gateway.
	NrHops int

	// PacketPayloadLength is the length of the innermost onion payload,
	// which carries the acknowledgement packet and one fragment.
	PacketPayloadLength int
}

func (g *Geometry) validate() error {
	if g.NrHops == 0 {
		g.NrHops = defaultNrHops
	}
	if g.PacketPayloadLength == 0 {
		g.PacketPayloadLength = defaultPacketPayloadLength
	}
	if g.NrHops < 1 {
		return fmt.Errorf("config: Geometry: NrHops %v is invalid", g.NrHops)
	}
	if g.PacketPayloadLength < 1 {
		return fmt.Errorf("config: Geometry: PacketPayloadLength %v is invalid", g.PacketPayloadLength)
	}
	return nil
}

// Debug is the debug configuration.
type Debug struct {
	// DisableCoverTraffic disables the loop cover traffic.
	DisableCoverTraffic bool

	// RoundTripTimeSlop is the number of milliseconds added to the
	// expected round trip time of a fragment before it is retransmitted.
	RoundTripTimeSlop int

	// MaxRetransmissions is the number of times a fragment is
	// retransmitted before it is given up on.  0 retransmits forever.
	MaxRetransmissions int

	// InputQueueLength is the number of submitted messages buffered ahead
	// of the input listener.
	InputQueueLength int

	// ReceiveQueueLength is the number of reassembled messages buffered
	// ahead of the application.
	ReceiveQueueLength int

	// MetricsAddress is the address the Prometheus endpoint listens on,
	// disabled when empty.
	MetricsAddress string
}

func (d *Debug) fixup() {
	if d.RoundTripTimeSlop == 0 {
		d.RoundTripTimeSlop = defaultRoundTripTimeSlop
	}
	if d.InputQueueLength == 0 {
		d.InputQueueLength = defaultInputQueueLength
	}
	if d.ReceiveQueueLength == 0 {
		d.ReceiveQueueLength = defaultReceiveQueueLength
	}
}

func (d *Debug) validate() error {
	switch {
	case d.RoundTripTimeSlop < 0:
		return fmt.Errorf("config: Debug: RoundTripTimeSlop %v is invalid", d.RoundTripTimeSlop)
	case d.MaxRetransmissions < 0:
		return fmt.Errorf("config: Debug: MaxRetransmissions %v is invalid", d.MaxRetransmissions)
	case d.InputQueueLength < 0:
		return fmt.Errorf("config: Debug: InputQueueLength %v is invalid", d.InputQueueLength)
	case d.ReceiveQueueLength < 0:
		return fmt.Errorf("config: Debug: ReceiveQueueLength %v is invalid", d.ReceiveQueueLength)
	}
	return nil
}

// RoundTripTimeSlopDuration returns RoundTripTimeSlop as a time.Duration.
func (d *Debug) RoundTripTimeSlopDuration() time.Duration {
	return time.Duration(d.RoundTripTimeSlop) * time.Millisecond
}

// Config is the top level client configuration.
type Config struct {
	// Logging
	Logging *Logging

	// Geometry
	Geometry *Geometry

	// Debug is used to set various parameters.
	Debug *Debug
}

// FixupAndValidate applies defaults to config entries and validates the
// configuration sections.
func (c *Config) FixupAndValidate() error {
	if c.Geometry == nil {
		return errors.New("config: No Geometry block was present")
	}
	// Handle missing sections if possible.
	if c.Logging == nil {
		l := defaultLogging
		c.Logging = &l
	}
	if c.Debug == nil {
		c.Debug = new(Debug)
	}
	c.Debug.fixup()

	// Validate/fixup the various sections.
	if err := c.Logging.validate(); err != nil {
		return err
	}
	if err := c.Geometry.validate(); err != nil {
		return err
	}
	return c.Debug.validate()
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)

	err := toml.Unmarshal(b, cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses, and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
