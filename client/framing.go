// SPDX-FileCopyrightText: © 2026 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"errors"
)

const (
	framePlain   = 0x00
	frameReplyTo = 0x01

	frameHeaderLength = 1
)

var errMalformedFrame = errors.New("client: malformed message frame")

// ReceivedMessage is a reassembled message.
type ReceivedMessage struct {
	// Payload is the application payload.
	Payload []byte

	// ReplyTo is the sender's address when the sender asked for reply
	// capability, nil otherwise.
	ReplyTo *Recipient
}

func encodeFrame(payload []byte, replyTo *Recipient) []byte {
	if replyTo == nil {
		b := make([]byte, 0, frameHeaderLength+len(payload))
		b = append(b, framePlain)
		return append(b, payload...)
	}
	b := make([]byte, 0, frameHeaderLength+RecipientLength+len(payload))
	b = append(b, frameReplyTo)
	b = append(b, replyTo.Bytes()...)
	return append(b, payload...)
}

func frameLength(payloadLength int, withReply bool) int {
	if withReply {
		return frameHeaderLength + RecipientLength + payloadLength
	}
	return frameHeaderLength + payloadLength
}

func decodeFrame(b []byte) (*ReceivedMessage, error) {
	if len(b) < frameHeaderLength {
		return nil, errMalformedFrame
	}
	switch b[0] {
	case framePlain:
		return &ReceivedMessage{Payload: b[frameHeaderLength:]}, nil
	case frameReplyTo:
		if len(b) < frameHeaderLength+RecipientLength {
			return nil, errMalformedFrame
		}
		r, err := RecipientFromBytes(b[frameHeaderLength : frameHeaderLength+RecipientLength])
		if err != nil {
			return nil, err
		}
		return &ReceivedMessage{
			Payload: b[frameHeaderLength+RecipientLength:],
			ReplyTo: r,
		}, nil
	default:
		return nil, errMalformedFrame
	}
}
