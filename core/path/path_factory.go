// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package path

import (
	"fmt"
	mRand "math/rand"
	"sync"
	"time"

	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/mixclient/core/pki"
)

// PathFactory composes paths, it is safe for concurrent use.
type PathFactory struct {
	sync.Mutex

	rng    *mRand.Rand
	scheme nike.Scheme
}

// NewPathFactory returns a PathFactory drawing hops and delays from a
// cryptographically seeded source.
func NewPathFactory(scheme nike.Scheme) *PathFactory {
	return &PathFactory{
		rng:    rand.NewMath(),
		scheme: scheme,
	}
}

// ComposePath is used to compose a path towards the given gateway.
// Returns the path and the time at which the packet is expected to reach
// the gateway.
func (d *PathFactory) ComposePath(doc *pki.Document, dstGateway *[pki.NodeIDLength]byte, baseTime time.Time) ([]*PathHop, time.Time, error) {
	if doc == nil {
		return nil, time.Time{}, fmt.Errorf("%w: no document", ErrNoRoute)
	}
	dst, err := doc.GetGatewayByKeyHash(dstGateway)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrNoRoute, err)
	}

	d.Lock()
	defer d.Unlock()
	return New(d.rng, d.scheme, doc, dst, baseTime)
}
