package net

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame layout: a 2-byte little-endian word holding the total frame size
// (header included), then the ciphered payload. The longest frame a
// 16-bit length can describe leaves 65533 payload bytes.
const maxPayloadLen = 65533

// ReadFrame pulls the next frame off r and returns its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	payloadLen := int(binary.LittleEndian.Uint16(header[:])) - 2
	if payloadLen <= 0 || payloadLen > maxPayloadLen {
		return nil, fmt.Errorf("invalid frame length: %d", payloadLen+2)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload (%d bytes): %w", payloadLen, err)
	}
	return payload, nil
}

// WriteFrame frames data and writes it to w.
func WriteFrame(w io.Writer, data []byte) error {
	var header [2]byte
	binary.LittleEndian.PutUint16(header[:], uint16(len(data)+2))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}
