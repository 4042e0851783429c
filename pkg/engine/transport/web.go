package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tonehq/tone-engine/pkg/engine/pipeline"
)

type webControlMessage struct {
	Type string `json:"type"`
}

// Web adapts a browser websocket. The client sends raw audio as binary
// messages and control messages as JSON text: {"type":"ready"} once its
// audio path is set up, {"type":"bye"} to hang up.
type Web struct {
	conn         *websocket.Conn
	logger       *slog.Logger
	writeTimeout time.Duration
	pingInterval time.Duration

	input  chan pipeline.Frame
	events chan pipeline.EventKind

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewWeb wraps conn after the server has consumed the client hello.
// Browser connections sit behind proxies that reap idle sockets, so the
// transport keeps the connection alive with pings; pingInterval <= 0
// disables them.
func NewWeb(conn *websocket.Conn, writeTimeout, pingInterval time.Duration, logger *slog.Logger) *Web {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Web{
		conn:         conn,
		logger:       logger,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		input:        make(chan pipeline.Frame, inputBuffer),
		events:       make(chan pipeline.EventKind, eventsBuffer),
		closed:       make(chan struct{}),
	}
	w.queueEvent(pipeline.EventClientConnected)
	go w.readLoop()
	if pingInterval > 0 {
		go w.pingLoop()
	}
	return w
}

func (w *Web) pingLoop() {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.writeMu.Lock()
			if w.writeTimeout > 0 {
				_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
			}
			err := w.conn.WriteMessage(websocket.PingMessage, nil)
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-w.closed:
			return
		}
	}
}

func (w *Web) Input() <-chan pipeline.Frame      { return w.input }
func (w *Web) Events() <-chan pipeline.EventKind { return w.events }

// Send writes outbound audio as a binary message.
func (w *Web) Send(_ context.Context, f pipeline.Frame) error {
	if f.Kind != pipeline.KindAudioOut {
		return nil
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, f.Audio)
}

func (w *Web) Close() error {
	w.closeOnce.Do(func() {
		close(w.closed)
		_ = w.conn.Close()
	})
	return nil
}

func (w *Web) readLoop() {
	defer close(w.input)
	for {
		msgType, raw, err := w.conn.ReadMessage()
		if err != nil {
			w.queueEvent(pipeline.EventClientDisconnected)
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			w.queueInput(pipeline.Frame{Kind: pipeline.KindAudioIn, Audio: raw})
		case websocket.TextMessage:
			var msg webControlMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				w.logger.Debug("unparseable control message", "error", err)
				continue
			}
			switch msg.Type {
			case "ready":
				w.queueEvent(pipeline.EventClientReady)
			case "bye":
				w.queueEvent(pipeline.EventClientDisconnected)
				return
			}
		}
	}
}

func (w *Web) queueInput(f pipeline.Frame) {
	select {
	case w.input <- f:
	case <-w.closed:
	default:
		w.logger.Debug("dropping inbound audio frame, input queue full")
	}
}

func (w *Web) queueEvent(ev pipeline.EventKind) {
	select {
	case w.events <- ev:
	case <-w.closed:
	default:
	}
}
