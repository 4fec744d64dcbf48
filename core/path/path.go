// path.go - Path selection routines.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package path provides routines for path selection.
package path

import (
	"errors"
	"fmt"
	mRand "math/rand"
	"time"

	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/mixclient/core/pki"
)

// ErrNoRoute is the error returned when the document does not contain a
// usable route to the requested destination.
var ErrNoRoute = errors.New("path: no valid route")

// PathHop describes a hop that a packet will traverse.
type PathHop struct {
	ID        [pki.NodeIDLength]byte
	PublicKey nike.PublicKey

	// Delay is the mixing delay at this hop in milliseconds.
	Delay uint32
}

// New creates a new path that crosses every mix layer of the document
// once and terminates at the dst gateway.  Routes are drawn independently
// on every call.
func New(rng *mRand.Rand, scheme nike.Scheme, doc *pki.Document, dst *pki.MixDescriptor, baseTime time.Time) ([]*PathHop, time.Time, error) {
	if doc == nil {
		return nil, time.Time{}, fmt.Errorf("%w: no document", ErrNoRoute)
	}
	if !dst.IsGatewayNode {
		id := dst.ID()
		return nil, time.Time{}, fmt.Errorf("%w: invalid destination (non gateway node): %x", ErrNoRoute, id[:])
	}

	descs, err := selectHops(rng, doc, dst)
	if err != nil {
		return nil, time.Time{}, err
	}

	then := baseTime
	path := make([]*PathHop, 0, len(descs))
	for idx, desc := range descs {
		h := &PathHop{
			ID: desc.ID(),
		}
		h.PublicKey, err = desc.UnmarshalMixKey(scheme)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("%w: node %v has an invalid mix key: %v", ErrNoRoute, desc.Name, err)
		}

		// All non-terminal hops have a delay.
		if idx != len(descs)-1 {
			delay := uint64(rand.Exp(rng, doc.Mu)) + 1
			if doc.MuMaxDelay > 0 && delay > doc.MuMaxDelay {
				delay = doc.MuMaxDelay
			}
			then = then.Add(time.Duration(delay) * time.Millisecond)
			h.Delay = uint32(delay)
		}
		path = append(path, h)
	}
	return path, then, nil
}

func selectHops(rng *mRand.Rand, doc *pki.Document, dst *pki.MixDescriptor) ([]*pki.MixDescriptor, error) {
	hops := make([]*pki.MixDescriptor, 0, len(doc.Topology)+1)
	for i, nodes := range doc.Topology {
		if len(nodes) == 0 {
			return nil, fmt.Errorf("%w: layer %v has no nodes", ErrNoRoute, i)
		}
		hops = append(hops, nodes[rng.Intn(len(nodes))])
	}
	return append(hops, dst), nil
}

// TotalDelay returns the sum of the mixing delays along the path.
func TotalDelay(p []*PathHop) time.Duration {
	var d time.Duration
	for _, h := range p {
		d += time.Duration(h.Delay) * time.Millisecond
	}
	return d
}
