package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tonehq/tone-engine/pkg/engine/pipeline"
)

var testUpgrader = websocket.Upgrader{}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// dialTestServer upgrades one connection server-side, hands it to wrap,
// and returns the client side.
func dialTestServer(t *testing.T, wrap func(*websocket.Conn)) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		wrap(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func drainEvents(t *testing.T, tr pipeline.Transport, want ...pipeline.EventKind) {
	t.Helper()
	for _, expected := range want {
		select {
		case got := <-tr.Events():
			if got != expected {
				t.Fatalf("event = %v, want %v", got, expected)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %v", expected)
		}
	}
}

func TestTelephony_MediaRoundTrip(t *testing.T) {
	transports := make(chan *Telephony, 1)
	client := dialTestServer(t, func(conn *websocket.Conn) {
		transports <- NewTelephony(conn, "MZ123", time.Second, testLogger())
	})

	tr := <-transports
	t.Cleanup(func() { tr.Close() })
	drainEvents(t, tr, pipeline.EventClientConnected, pipeline.EventClientReady)

	payload := base64.StdEncoding.EncodeToString([]byte{0x7F, 0x80, 0x00})
	media := `{"event":"media","streamSid":"MZ123","media":{"payload":"` + payload + `"}}`
	if err := client.WriteMessage(websocket.TextMessage, []byte(media)); err != nil {
		t.Fatalf("write media: %v", err)
	}

	select {
	case f := <-tr.Input():
		if f.Kind != pipeline.KindAudioIn || len(f.Audio) != 3 || f.Audio[0] != 0x7F {
			t.Fatalf("frame = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("media frame never arrived")
	}

	if err := tr.Send(context.Background(), pipeline.Frame{Kind: pipeline.KindAudioOut, Audio: []byte{1, 2}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	var out struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode outbound: %v", err)
	}
	if out.Event != "media" || out.StreamSID != "MZ123" {
		t.Fatalf("outbound = %+v", out)
	}
	audio, err := base64.StdEncoding.DecodeString(out.Media.Payload)
	if err != nil || len(audio) != 2 || audio[0] != 1 {
		t.Fatalf("payload = %v (err %v)", audio, err)
	}
}

func TestTelephony_StopDisconnects(t *testing.T) {
	transports := make(chan *Telephony, 1)
	client := dialTestServer(t, func(conn *websocket.Conn) {
		transports <- NewTelephony(conn, "MZ123", time.Second, testLogger())
	})

	tr := <-transports
	t.Cleanup(func() { tr.Close() })
	drainEvents(t, tr, pipeline.EventClientConnected, pipeline.EventClientReady)

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop"}`)); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	drainEvents(t, tr, pipeline.EventClientDisconnected)
}

func TestTelephony_NonAudioFramesDropped(t *testing.T) {
	transports := make(chan *Telephony, 1)
	client := dialTestServer(t, func(conn *websocket.Conn) {
		transports <- NewTelephony(conn, "MZ123", time.Second, testLogger())
	})

	tr := <-transports
	t.Cleanup(func() { tr.Close() })

	if err := tr.Send(context.Background(), pipeline.Frame{Kind: pipeline.KindText, Text: "hi"}); err != nil {
		t.Fatalf("Send text frame: %v", err)
	}
	// Nothing must reach the carrier for a non-audio frame.
	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Fatal("text frame leaked to the carrier")
	}
}

func TestWeb_AudioAndControl(t *testing.T) {
	transports := make(chan *Web, 1)
	client := dialTestServer(t, func(conn *websocket.Conn) {
		transports <- NewWeb(conn, time.Second, 0, testLogger())
	})

	tr := <-transports
	t.Cleanup(func() { tr.Close() })
	drainEvents(t, tr, pipeline.EventClientConnected)

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"type":"ready"}`)); err != nil {
		t.Fatalf("write ready: %v", err)
	}
	drainEvents(t, tr, pipeline.EventClientReady)

	if err := client.WriteMessage(websocket.BinaryMessage, []byte{9, 9}); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	select {
	case f := <-tr.Input():
		if f.Kind != pipeline.KindAudioIn || len(f.Audio) != 2 {
			t.Fatalf("frame = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audio frame never arrived")
	}

	if err := tr.Send(context.Background(), pipeline.Frame{Kind: pipeline.KindAudioOut, Audio: []byte{4, 5, 6}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgType, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if msgType != websocket.BinaryMessage || len(raw) != 3 {
		t.Fatalf("outbound = type %d, %v", msgType, raw)
	}

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"type":"bye"}`)); err != nil {
		t.Fatalf("write bye: %v", err)
	}
	drainEvents(t, tr, pipeline.EventClientDisconnected)
}
