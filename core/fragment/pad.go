// SPDX-FileCopyrightText: © 2026 Mixclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package fragment

import "fmt"

const padMarker = 0x80

// Pad appends the ISO/IEC 7816-4 padding to b so that the result is
// exactly length bytes.  At least one byte of padding is always added.
func Pad(b []byte, length int) ([]byte, error) {
	if len(b) >= length {
		return nil, fmt.Errorf("fragment: %d bytes do not fit in %d with padding", len(b), length)
	}
	out := make([]byte, length)
	copy(out, b)
	out[len(b)] = padMarker
	return out, nil
}

// Unpad strips the padding added by Pad.
func Unpad(b []byte) ([]byte, error) {
	for i := len(b) - 1; i >= 0; i-- {
		switch b[i] {
		case 0x00:
		case padMarker:
			return b[:i], nil
		default:
			return nil, fmt.Errorf("%w: invalid padding", ErrMalformedFragment)
		}
	}
	return nil, fmt.Errorf("%w: missing padding", ErrMalformedFragment)
}
