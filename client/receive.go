// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"github.com/katzenpost/mixclient/client/instrument"
	"github.com/katzenpost/mixclient/core/fragment"
)

// HandleDelivery processes the fragment area of a packet the client's
// gateway delivered to it.  Cover fragments and duplicates are discarded.
// Once every fragment of a message arrived the message is queued on
// ReceivedMessages.
func (c *Client) HandleDelivery(area []byte) error {
	b, err := fragment.Unpad(area)
	if err != nil {
		instrument.Dropped(instrument.DropMalformed)
		return err
	}
	if fragment.IsCover(b) {
		return nil
	}

	c.recvLock.Lock()
	msg, err := c.reconstructor.InsertBytes(b)
	c.recvLock.Unlock()
	if err != nil {
		instrument.Dropped(instrument.DropMalformed)
		c.recvLog.Debugf("Discarding fragment: %v", err)
		return err
	}
	if msg == nil {
		return nil
	}

	m, err := decodeFrame(msg)
	if err != nil {
		instrument.Dropped(instrument.DropMalformed)
		c.recvLog.Warningf("Discarding reassembled message: %v", err)
		return err
	}
	instrument.Reconstructed()
	c.recvLog.Debugf("Reassembled %d byte message", len(m.Payload))

	select {
	case <-c.HaltCh():
		return ErrShutdown
	case c.recvCh <- m:
	}
	return nil
}

// ReceivedMessages returns the channel reassembled messages are delivered
// on.
func (c *Client) ReceivedMessages() <-chan *ReceivedMessage {
	return c.recvCh
}
