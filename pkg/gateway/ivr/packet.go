// Package ivr accepts inbound carrier packets and runs each call's turns in
// order on a dedicated goroutine.
package ivr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedPacket = errors.New("ivr: malformed packet")

// Packet is one inbound event from the carrier/ASR layer.
type Packet struct {
	CallID     string         `json:"callId"`
	Seq        int64          `json:"seq"`
	IsHuman    bool           `json:"isHuman"`
	Transcript string         `json:"transcript"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Decode parses and validates a JSON packet. A maxBytes of zero disables
// the size check.
func Decode(data []byte, maxBytes int64) (Packet, error) {
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return Packet{}, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrMalformedPacket, len(data), maxBytes)
	}
	var wire struct {
		CallID     *string        `json:"callId"`
		Seq        *int64         `json:"seq"`
		IsHuman    bool           `json:"isHuman"`
		Transcript string         `json:"transcript"`
		Meta       map[string]any `json:"meta"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&wire); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	if dec.More() {
		return Packet{}, fmt.Errorf("%w: trailing data", ErrMalformedPacket)
	}
	if wire.CallID == nil || strings.TrimSpace(*wire.CallID) == "" {
		return Packet{}, fmt.Errorf("%w: callId is required", ErrMalformedPacket)
	}
	if wire.Seq == nil {
		return Packet{}, fmt.Errorf("%w: seq is required", ErrMalformedPacket)
	}
	if *wire.Seq < 0 {
		return Packet{}, fmt.Errorf("%w: seq must be >= 0", ErrMalformedPacket)
	}
	return Packet{
		CallID:     strings.TrimSpace(*wire.CallID),
		Seq:        *wire.Seq,
		IsHuman:    wire.IsHuman,
		Transcript: wire.Transcript,
		Meta:       wire.Meta,
	}, nil
}

// MetaString returns a string metadata value, or "".
func (p Packet) MetaString(key string) string {
	s, _ := p.Meta[key].(string)
	return strings.TrimSpace(s)
}
