// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/katzenpost/mixclient/core/path"
	"github.com/katzenpost/mixclient/core/pki"
)

// Topology is the view of the network a packet is routed over.
type Topology interface {
	// PickRoute draws a fresh route terminating at the gateway dst.
	PickRoute(dst *[pki.NodeIDLength]byte, baseTime time.Time) ([]*path.PathHop, error)

	// EnsureRoutable returns an error wrapping path.ErrNoRoute unless
	// routes towards the gateway gw can be drawn.
	EnsureRoutable(gw *[pki.NodeIDLength]byte) error
}

// TopologyView is an immutable snapshot of one PKI document.  Every
// packet of a message is routed over the same view.
type TopologyView struct {
	doc     *pki.Document
	factory *path.PathFactory
	nrHops  int
}

// Document returns the document the view was taken from.
func (v *TopologyView) Document() *pki.Document {
	return v.doc
}

// PickRoute implements Topology.
func (v *TopologyView) PickRoute(dst *[pki.NodeIDLength]byte, baseTime time.Time) ([]*path.PathHop, error) {
	if err := v.EnsureRoutable(dst); err != nil {
		return nil, err
	}
	p, _, err := v.factory.ComposePath(v.doc, dst, baseTime)
	return p, err
}

// EnsureRoutable implements Topology.
func (v *TopologyView) EnsureRoutable(gw *[pki.NodeIDLength]byte) error {
	if n := len(v.doc.Topology) + 1; n != v.nrHops {
		return fmt.Errorf("%w: document routes over %d hops, expected %d", path.ErrNoRoute, n, v.nrHops)
	}
	for i, nodes := range v.doc.Topology {
		if len(nodes) == 0 {
			return fmt.Errorf("%w: layer %d has no nodes", path.ErrNoRoute, i)
		}
	}
	if _, err := v.doc.GetGatewayByKeyHash(gw); err != nil {
		return fmt.Errorf("%w: %v", path.ErrNoRoute, err)
	}
	return nil
}

// topologyAccessor hands out snapshots of the most recent document.
type topologyAccessor struct {
	doc     atomic.Pointer[pki.Document]
	factory *path.PathFactory
	nrHops  int
}

func newTopologyAccessor(factory *path.PathFactory, nrHops int) *topologyAccessor {
	return &topologyAccessor{
		factory: factory,
		nrHops:  nrHops,
	}
}

func (t *topologyAccessor) update(doc *pki.Document) {
	t.doc.Store(doc)
}

// Permit returns a view of the current document.  Updates published after
// the call do not affect the returned view.
func (t *topologyAccessor) Permit() (*TopologyView, error) {
	doc := t.doc.Load()
	if doc == nil {
		return nil, ErrNoTopology
	}
	return &TopologyView{
		doc:     doc,
		factory: t.factory,
		nrHops:  t.nrHops,
	}, nil
}
