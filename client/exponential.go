// SPDX-FileCopyrightText: Copyright (C) 2024 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"fmt"
	"math"
	"time"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/mixclient/core/worker"
)

type opEnable struct {
	enabled bool
}

type opExpNewRate struct {
	averageDelay uint64
	maxDelay     uint64
}

// ExpDist provides a pseudorandom ticker with exponentially distributed
// intervals.  The channel returned by OutCh() is written at an average
// interval set with UpdateRate(average, max uint64), in milliseconds.
type ExpDist struct {
	worker.Worker

	opCh  chan interface{}
	outCh chan struct{}
}

// NewExpDist returns a disabled ExpDist with running worker routine.
func NewExpDist() *ExpDist {
	e := &ExpDist{
		opCh:  make(chan interface{}, 1),
		outCh: make(chan struct{}, 1),
	}
	e.Go(e.worker)
	return e
}

// OutCh returns the channel that receives a tick per interval.
func (e *ExpDist) OutCh() <-chan struct{} {
	return e.outCh
}

// UpdateRate sets the average and maximum interval in milliseconds.  A
// maxDelay of 0 leaves the interval uncapped, an averageDelay of 0 stops
// the ticks.
func (e *ExpDist) UpdateRate(averageDelay uint64, maxDelay uint64) {
	select {
	case <-e.HaltCh():
	case e.opCh <- opExpNewRate{
		averageDelay: averageDelay,
		maxDelay:     maxDelay,
	}:
	}
}

// SetEnabled starts or stops the ticks.
func (e *ExpDist) SetEnabled(enabled bool) {
	select {
	case <-e.HaltCh():
	case e.opCh <- opEnable{enabled: enabled}:
	}
}

func (e *ExpDist) worker() {
	const maxDuration = math.MaxInt64

	var (
		averageDelay uint64
		maxDelay     uint64
		enabled      bool
		mRng         = rand.NewMath()
		rateTimer    = time.NewTimer(maxDuration)
	)
	defer rateTimer.Stop()

	for {
		select {
		case <-e.HaltCh():
			return
		case <-rateTimer.C:
			if enabled {
				// A tick the consumer has not picked up yet is not
				// doubled up.
				select {
				case e.outCh <- struct{}{}:
				default:
				}
			}
		case qo := <-e.opCh:
			switch op := qo.(type) {
			case opEnable:
				enabled = op.enabled
			case opExpNewRate:
				averageDelay = op.averageDelay
				maxDelay = op.maxDelay
			default:
				panic(fmt.Sprintf("BUG: Worker received nonsensical op: %T", op))
			}
		}

		interval := time.Duration(maxDuration)
		if enabled && averageDelay != 0 {
			msec := uint64(rand.Exp(mRng, 1/float64(averageDelay)))
			if maxDelay != 0 && msec > maxDelay {
				msec = maxDelay
			}
			interval = time.Duration(msec) * time.Millisecond
		}
		rateTimer.Reset(interval)
	}
}
