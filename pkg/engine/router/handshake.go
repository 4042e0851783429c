package router

import (
	"encoding/json"
	"fmt"
)

// maxHandshakeFrames bounds how many frames we consume looking for the
// start event before giving up on the handshake.
const maxHandshakeFrames = 5

// FrameReader yields raw handshake frames. *websocket.Conn satisfies it.
type FrameReader interface {
	ReadMessage() (messageType int, p []byte, err error)
}

// Handshake is the call identity extracted from the carrier's opening
// frames. DialedNumber is empty when the carrier did not include it
// inline.
type Handshake struct {
	CallID           string
	StreamID         string
	AccountID        string
	DialedNumber     string
	CustomParameters map[string]string
}

type carrierFrame struct {
	Event string `json:"event"`
	Start *struct {
		AccountSID       string            `json:"accountSid"`
		StreamSID        string            `json:"streamSid"`
		CallSID          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start"`
}

// ReadHandshake consumes the carrier's opening frames until it sees the
// start event. The carrier sends a bare connected event first; anything
// else before start is tolerated and skipped, up to maxHandshakeFrames.
func ReadHandshake(r FrameReader) (*Handshake, error) {
	for i := 0; i < maxHandshakeFrames; i++ {
		_, raw, err := r.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read handshake frame: %w", err)
		}
		var frame carrierFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return nil, fmt.Errorf("decode handshake frame: %w", err)
		}
		if frame.Event != "start" || frame.Start == nil {
			continue
		}
		hs := &Handshake{
			CallID:           frame.Start.CallSID,
			StreamID:         frame.Start.StreamSID,
			AccountID:        frame.Start.AccountSID,
			CustomParameters: frame.Start.CustomParameters,
		}
		if hs.CallID == "" {
			return nil, fmt.Errorf("start frame has no call id")
		}
		// Some integrations pass the dialed number as a custom
		// parameter; prefer it over a carrier API round trip.
		if to, ok := frame.Start.CustomParameters["to"]; ok {
			hs.DialedNumber = to
		}
		return hs, nil
	}
	return nil, fmt.Errorf("no start event within %d frames", maxHandshakeFrames)
}
