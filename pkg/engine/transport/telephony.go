// Package transport adapts websocket connections to the Transport surface
// the pipeline consumes: one adapter for carrier media streams, one for
// browser sessions.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tonehq/tone-engine/pkg/engine/pipeline"
)

const (
	inputBuffer  = 64
	eventsBuffer = 8
)

type carrierMediaFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid,omitempty"`
	Media     *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
}

// Telephony adapts a carrier media-stream websocket. Inbound media events
// carry base64 mulaw payloads; outbound audio is wrapped the same way.
// The carrier exchanges media as soon as its start frame is sent, so the
// session is marked connected and ready immediately.
type Telephony struct {
	conn         *websocket.Conn
	streamID     string
	logger       *slog.Logger
	writeTimeout time.Duration

	input  chan pipeline.Frame
	events chan pipeline.EventKind

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewTelephony wraps conn after the routing handshake has been consumed.
// streamID is the carrier's stream identifier from the start frame.
func NewTelephony(conn *websocket.Conn, streamID string, writeTimeout time.Duration, logger *slog.Logger) *Telephony {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Telephony{
		conn:         conn,
		streamID:     streamID,
		logger:       logger,
		writeTimeout: writeTimeout,
		input:        make(chan pipeline.Frame, inputBuffer),
		events:       make(chan pipeline.EventKind, eventsBuffer),
		closed:       make(chan struct{}),
	}
	t.queueEvent(pipeline.EventClientConnected)
	t.queueEvent(pipeline.EventClientReady)
	go t.readLoop()
	return t
}

func (t *Telephony) Input() <-chan pipeline.Frame      { return t.input }
func (t *Telephony) Events() <-chan pipeline.EventKind { return t.events }

// Send writes an outbound audio frame as a carrier media event. Frames of
// other kinds are not part of the carrier protocol and are dropped.
func (t *Telephony) Send(_ context.Context, f pipeline.Frame) error {
	if f.Kind != pipeline.KindAudioOut {
		return nil
	}
	msg := map[string]any{
		"event":     "media",
		"streamSid": t.streamID,
		"media": map[string]string{
			"payload": base64.StdEncoding.EncodeToString(f.Audio),
		},
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode media event: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return t.conn.WriteMessage(websocket.TextMessage, raw)
}

func (t *Telephony) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		_ = t.conn.Close()
	})
	return nil
}

func (t *Telephony) readLoop() {
	defer close(t.input)
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			t.queueEvent(pipeline.EventClientDisconnected)
			return
		}
		var frame carrierMediaFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.logger.Debug("unparseable carrier frame", "error", err)
			continue
		}
		switch frame.Event {
		case "media":
			if frame.Media == nil {
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
			if err != nil {
				t.logger.Debug("bad media payload", "error", err)
				continue
			}
			t.queueInput(pipeline.Frame{Kind: pipeline.KindAudioIn, Audio: audio})
		case "stop":
			t.queueEvent(pipeline.EventClientDisconnected)
			return
		default:
			// mark, dtmf and friends are not consumed.
		}
	}
}

func (t *Telephony) queueInput(f pipeline.Frame) {
	select {
	case t.input <- f:
	case <-t.closed:
	default:
		// A stalled pipeline sheds audio rather than blocking the read
		// loop off the socket.
		t.logger.Debug("dropping inbound audio frame, input queue full")
	}
}

func (t *Telephony) queueEvent(ev pipeline.EventKind) {
	select {
	case t.events <- ev:
	case <-t.closed:
	default:
	}
}
