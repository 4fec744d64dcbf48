// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"math"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixclient/client/instrument"
	"github.com/katzenpost/mixclient/core/pki"
	"github.com/katzenpost/mixclient/core/worker"
)

// coverTraffic sends a loop packet to the client itself on every tick of
// its Poisson ticker.
type coverTraffic struct {
	worker.Worker

	log *logging.Logger

	exp      *ExpDist
	disabled bool

	topology *topologyAccessor
	chunker  *Chunker
	outbound *OutboundQueue

	onFatal func(error)
}

func newCoverTraffic(c *Client) *coverTraffic {
	return &coverTraffic{
		log:      c.logBackend.GetLogger("client/cover"),
		exp:      NewExpDist(),
		disabled: c.cfg.Debug.DisableCoverTraffic,
		topology: c.topology,
		chunker:  c.chunker,
		outbound: c.outbound,
		onFatal:  c.fatal,
	}
}

func (t *coverTraffic) Start() {
	t.Go(t.worker)
}

func (t *coverTraffic) Halt() {
	t.Worker.Halt()
	t.exp.Halt()
}

// updateRate re-rates the ticker from the document's loop rate.
func (t *coverTraffic) updateRate(doc *pki.Document) {
	if t.disabled || doc.LambdaL <= 0 {
		t.exp.SetEnabled(false)
		return
	}
	t.exp.UpdateRate(averageDelay(doc.LambdaL), doc.LambdaLMaxDelay)
	t.exp.SetEnabled(true)
}

// averageDelay converts a Poisson rate per millisecond into the mean
// interval in milliseconds.
func averageDelay(lambda float64) uint64 {
	d := math.Round(1 / lambda)
	if d < 1 {
		return 1
	}
	return uint64(d)
}

func (t *coverTraffic) worker() {
	for {
		select {
		case <-t.HaltCh():
			t.log.Debugf("Terminating gracefully.")
			return
		case <-t.exp.OutCh():
			t.send()
		}
	}
}

func (t *coverTraffic) send() {
	view, err := t.topology.Permit()
	if err != nil {
		t.log.Debugf("Skipping cover packet: %v", err)
		return
	}
	_, pkt, err := t.chunker.PrepareCoverPacket(view)
	if err != nil {
		if IsFatal(err) {
			t.onFatal(err)
			return
		}
		t.log.Debugf("Skipping cover packet: %v", err)
		return
	}
	if err = t.outbound.Push(pkt); err != nil {
		t.onFatal(err)
		return
	}
	instrument.CoverPacket()
}
