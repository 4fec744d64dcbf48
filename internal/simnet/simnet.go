// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package simnet provides an in-memory mix network that clients can be
// attached to, with configurable packet loss and duplicate delivery.
package simnet

import (
	"errors"
	"fmt"
	mRand "math/rand"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/mixclient/client"
	"github.com/katzenpost/mixclient/core/log"
	"github.com/katzenpost/mixclient/core/pki"
	"github.com/katzenpost/mixclient/core/worker"
)

// Config is the network configuration.
type Config struct {
	// NodesPerLayer is the number of mixes in each layer.  The number of
	// layers follows from the packet geometry.
	NodesPerLayer int

	// Gateways is the number of gateway nodes.
	Gateways int

	// Mu and MuMaxDelay are published in the document and drive the
	// per hop mixing delays.
	Mu         float64
	MuMaxDelay uint64

	// LambdaL and LambdaLMaxDelay are published in the document and drive
	// the clients' loop cover traffic.
	LambdaL         float64
	LambdaLMaxDelay uint64

	// LossRate is the probability that a node drops a packet.
	LossRate float64

	// DuplicateRate is the probability that a gateway delivers a fragment
	// twice.
	DuplicateRate float64

	// DelayScale multiplies every mixing delay, 0 disables delays.
	DelayScale float64
}

// ErrInvalidConfig is returned by New for an unusable Config.
var ErrInvalidConfig = errors.New("simnet: invalid configuration")

func (c *Config) validate() error {
	switch {
	case c.NodesPerLayer < 1:
		return fmt.Errorf("%w: NodesPerLayer %v", ErrInvalidConfig, c.NodesPerLayer)
	case c.Gateways < 1:
		return fmt.Errorf("%w: Gateways %v", ErrInvalidConfig, c.Gateways)
	case c.Mu <= 0:
		return fmt.Errorf("%w: Mu %v", ErrInvalidConfig, c.Mu)
	case c.LossRate < 0 || c.LossRate >= 1:
		return fmt.Errorf("%w: LossRate %v", ErrInvalidConfig, c.LossRate)
	case c.DuplicateRate < 0 || c.DuplicateRate > 1:
		return fmt.Errorf("%w: DuplicateRate %v", ErrInvalidConfig, c.DuplicateRate)
	case c.DelayScale < 0:
		return fmt.Errorf("%w: DelayScale %v", ErrInvalidConfig, c.DelayScale)
	}
	return nil
}

// Stats are the network's packet counters.
type Stats struct {
	Forwarded     uint64
	Lost          uint64
	Replayed      uint64
	Malformed     uint64
	Delivered     uint64
	Duplicated    uint64
	Acks          uint64
	Undeliverable uint64
	Misrouted     uint64
}

// Network is an in-memory mix network.
type Network struct {
	worker.Worker

	log        *logging.Logger
	logBackend *log.Backend

	cfg     *Config
	geo     *client.PacketGeometry
	doc     *pki.Document
	docBlob []byte

	nodes map[[pki.NodeIDLength]byte]*node

	sync.Mutex
	rng     *mRand.Rand
	clients map[[pki.NodeIDLength]byte]*client.Client
	stats   Stats
}

// New creates a network whose routes match geo.  Mixes occupy
// geo.Forward.NrHops-1 layers.
func New(cfg *Config, geo *client.PacketGeometry, logBackend *log.Backend) (*Network, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	n := &Network{
		log:        logBackend.GetLogger("simnet"),
		logBackend: logBackend,
		cfg:        cfg,
		geo:        geo,
		nodes:      make(map[[pki.NodeIDLength]byte]*node),
		rng:        rand.NewMath(),
		clients:    make(map[[pki.NodeIDLength]byte]*client.Client),
	}
	n.doc = &pki.Document{
		Mu:              cfg.Mu,
		MuMaxDelay:      cfg.MuMaxDelay,
		LambdaL:         cfg.LambdaL,
		LambdaLMaxDelay: cfg.LambdaLMaxDelay,
		Version:         pki.DocumentVersion,
	}

	idx := 1
	for l := 0; l < geo.Forward.NrHops-1; l++ {
		var layer []*pki.MixDescriptor
		for i := 0; i < cfg.NodesPerLayer; i++ {
			nd, err := n.newNode(idx, uint8(l))
			if err != nil {
				return nil, err
			}
			layer = append(layer, nd.desc)
			idx++
		}
		n.doc.Topology = append(n.doc.Topology, layer)
	}
	for i := 0; i < cfg.Gateways; i++ {
		nd, err := n.newNode(idx, pki.LayerGateway)
		if err != nil {
			return nil, err
		}
		n.doc.GatewayNodes = append(n.doc.GatewayNodes, nd.desc)
		idx++
	}
	if err := pki.IsDocumentWellFormed(n.doc); err != nil {
		return nil, err
	}
	blob, err := n.doc.MarshalBinary()
	if err != nil {
		return nil, err
	}
	n.docBlob = blob
	sum := n.doc.Sum256()
	n.log.Noticef("Publishing document %x (%d bytes)", sum[:8], len(blob))
	for _, nd := range n.nodes {
		nd.start()
	}
	return n, nil
}

func (n *Network) newNode(idx int, layer uint8) (*node, error) {
	scheme := n.geo.Forward.Scheme
	pub, priv, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	desc := &pki.MixDescriptor{
		Name:          fmt.Sprintf("node%d.simnet.invalid", idx),
		IdentityKey:   make([]byte, 32),
		MixKey:        pub.Bytes(),
		Addresses:     map[string][]string{pki.TransportTCP: {fmt.Sprintf("node%d.simnet.invalid:4242", idx)}},
		IsGatewayNode: layer == pki.LayerGateway,
		Version:       pki.DescriptorVersion,
	}
	if _, err = rand.Reader.Read(desc.IdentityKey); err != nil {
		return nil, err
	}
	nd, err := newNode(n, desc, layer, priv)
	if err != nil {
		return nil, err
	}
	n.nodes[desc.ID()] = nd
	return nd, nil
}

// Document returns the network's PKI document.
func (n *Network) Document() *pki.Document {
	return n.doc
}

// DocumentBytes returns the serialized document, as clients fetch it.
func (n *Network) DocumentBytes() []byte {
	b := make([]byte, len(n.docBlob))
	copy(b, n.docBlob)
	return b
}

// Scheme returns the NIKE the nodes' mix keys belong to.
func (n *Network) Scheme() nike.Scheme {
	return n.geo.Forward.Scheme
}

// NewAddress returns a fresh client address at the gateway with the given
// index.
func (n *Network) NewAddress(gateway int) (*client.Recipient, error) {
	if gateway < 0 || gateway >= len(n.doc.GatewayNodes) {
		return nil, fmt.Errorf("simnet: no gateway %d", gateway)
	}
	r := &client.Recipient{Gateway: n.doc.GatewayNodes[gateway].ID()}
	if _, err := rand.Reader.Read(r.ClientID[:]); err != nil {
		return nil, err
	}
	return r, nil
}

// Attach connects c to its gateway, hands it the document and starts
// moving its outbound packets into the network.
func (n *Network) Attach(c *client.Client) error {
	addr := c.Address()
	if _, err := n.doc.GetGatewayByKeyHash(&addr.Gateway); err != nil {
		return fmt.Errorf("simnet: client %v: %v", addr, err)
	}

	n.Lock()
	if _, ok := n.clients[addr.ClientID]; ok {
		n.Unlock()
		return errors.New("simnet: client already attached")
	}
	n.clients[addr.ClientID] = c
	n.Unlock()

	doc, err := pki.ParseDocument(n.DocumentBytes())
	if err != nil {
		return err
	}
	if err = c.UpdateDocument(doc); err != nil {
		return err
	}
	n.Go(func() {
		for {
			select {
			case <-n.HaltCh():
				return
			case pkt := <-c.OutboundPackets():
				n.inject(pkt.FirstHop, pkt.Packet)
			}
		}
	})
	return nil
}

// Stats returns a snapshot of the packet counters.
func (n *Network) Stats() Stats {
	n.Lock()
	defer n.Unlock()
	return n.stats
}

// Shutdown stops every node.
func (n *Network) Shutdown() {
	n.Halt()
	for _, nd := range n.nodes {
		nd.Halt()
	}
}

func (n *Network) count(fn func(*Stats)) {
	n.Lock()
	fn(&n.stats)
	n.Unlock()
}

func (n *Network) roll(p float64) bool {
	if p <= 0 {
		return false
	}
	n.Lock()
	defer n.Unlock()
	return n.rng.Float64() < p
}

func (n *Network) lookupClient(gateway, clientID [pki.NodeIDLength]byte) *client.Client {
	n.Lock()
	defer n.Unlock()
	c, ok := n.clients[clientID]
	if !ok || c.Address().Gateway != gateway {
		return nil
	}
	return c
}

// inject hands a packet entering the network to its first hop, which must
// be a mix of the first layer.
func (n *Network) inject(hop [pki.NodeIDLength]byte, pkt []byte) {
	if layer, err := n.doc.GetMixLayer(&hop); err != nil || layer != 0 {
		n.count(func(s *Stats) { s.Misrouted++ })
		n.log.Debugf("Dropping packet entering at %x", hop[:8])
		return
	}
	n.send(hop, pkt)
}

// isNextHop returns true iff a node at layer may forward to next.
func (n *Network) isNextHop(layer uint8, next *[pki.NodeIDLength]byte) bool {
	nextLayer, err := n.doc.GetMixLayer(next)
	switch {
	case err != nil, layer == pki.LayerGateway:
		return false
	case int(layer) == len(n.doc.Topology)-1:
		return nextLayer == pki.LayerGateway
	default:
		return nextLayer == layer+1
	}
}

func (n *Network) send(hop [pki.NodeIDLength]byte, pkt []byte) {
	nd, ok := n.nodes[hop]
	if !ok {
		n.count(func(s *Stats) { s.Undeliverable++ })
		n.log.Debugf("Dropping packet for unknown node %x", hop[:8])
		return
	}
	nd.enqueue(pkt)
}

func (n *Network) delay(ms uint32) time.Duration {
	return time.Duration(float64(ms)*n.cfg.DelayScale) * time.Millisecond
}
