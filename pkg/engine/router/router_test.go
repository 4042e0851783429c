package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tonehq/tone-engine/pkg/engine/store"
)

type frameScript struct {
	frames []string
	pos    int
}

func (f *frameScript) ReadMessage() (int, []byte, error) {
	if f.pos >= len(f.frames) {
		return 0, nil, io.EOF
	}
	raw := f.frames[f.pos]
	f.pos++
	return 1, []byte(raw), nil
}

type fakeAgents struct {
	byNumber map[string]*store.Agent
	err      error
}

func (f *fakeAgents) AgentByPhoneNumber(_ context.Context, number string) (*store.Agent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byNumber[number], nil
}

type fakeCarrier struct {
	detail *CallDetail
	err    error
}

func (f *fakeCarrier) CallDetail(context.Context, string) (*CallDetail, error) {
	return f.detail, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSession() *Session { return NewSession("test", testLogger()) }

const startFrame = `{"event":"start","sequenceNumber":"1","start":{"accountSid":"AC123","streamSid":"MZ456","callSid":"CA789","customParameters":{}}}`

func TestReadHandshake(t *testing.T) {
	fr := &frameScript{frames: []string{
		`{"event":"connected","protocol":"Call","version":"1.0.0"}`,
		startFrame,
	}}
	hs, err := ReadHandshake(fr)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if hs.CallID != "CA789" || hs.StreamID != "MZ456" || hs.AccountID != "AC123" {
		t.Fatalf("handshake = %+v", hs)
	}
	if hs.DialedNumber != "" {
		t.Fatalf("DialedNumber = %q, want empty", hs.DialedNumber)
	}
}

func TestReadHandshake_DialedNumberFromCustomParameter(t *testing.T) {
	fr := &frameScript{frames: []string{
		`{"event":"start","start":{"callSid":"CA1","streamSid":"MZ1","customParameters":{"to":"+15550001111"}}}`,
	}}
	hs, err := ReadHandshake(fr)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if hs.DialedNumber != "+15550001111" {
		t.Fatalf("DialedNumber = %q", hs.DialedNumber)
	}
}

func TestReadHandshake_NoStartEvent(t *testing.T) {
	frames := make([]string, maxHandshakeFrames+1)
	for i := range frames {
		frames[i] = `{"event":"connected"}`
	}
	if _, err := ReadHandshake(&frameScript{frames: frames}); err == nil {
		t.Fatal("ReadHandshake should fail without a start event")
	}
}

func TestReadHandshake_ReadError(t *testing.T) {
	if _, err := ReadHandshake(&frameScript{}); err == nil {
		t.Fatal("ReadHandshake should surface read errors")
	}
}

func TestCarrierClient_CallDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Calls/CA789.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "token" {
			t.Errorf("basic auth = %q/%q", user, pass)
		}
		w.Write([]byte(`{"from":"+15550002222","to":"+15550001111","status":"in-progress"}`))
	}))
	defer srv.Close()

	c := NewCarrierClient("AC123", "token").WithBaseURL(srv.URL)
	detail, err := c.CallDetail(context.Background(), "CA789")
	if err != nil {
		t.Fatalf("CallDetail: %v", err)
	}
	if detail.To != "+15550001111" || detail.From != "+15550002222" {
		t.Fatalf("detail = %+v", detail)
	}
}

func TestCarrierClient_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewCarrierClient("AC123", "token").WithBaseURL(srv.URL)
	if _, err := c.CallDetail(context.Background(), "CA789"); err == nil {
		t.Fatal("non-200 must be an error")
	}
}

func TestRoute_AgentResolved(t *testing.T) {
	agents := &fakeAgents{byNumber: map[string]*store.Agent{
		"+15550001111": {ID: 7, Name: "support"},
	}}
	carrier := &fakeCarrier{detail: &CallDetail{To: " +15550001111 "}}
	sess := testSession()

	res, err := New(agents, carrier, testLogger()).Route(context.Background(),
		&frameScript{frames: []string{startFrame}}, sess)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if res.Agent == nil || res.Agent.ID != 7 {
		t.Fatalf("Agent = %+v", res.Agent)
	}
	// Carrier responses are normalized before lookup.
	if res.DialedNumber != "+15550001111" {
		t.Fatalf("DialedNumber = %q", res.DialedNumber)
	}
	if sess.State() != StateAgentResolved {
		t.Fatalf("state = %s", sess.State())
	}
}

func TestRoute_UnregisteredNumberFallsBack(t *testing.T) {
	agents := &fakeAgents{byNumber: map[string]*store.Agent{}}
	carrier := &fakeCarrier{detail: &CallDetail{To: "+15559999999"}}
	sess := testSession()

	res, err := New(agents, carrier, testLogger()).Route(context.Background(),
		&frameScript{frames: []string{startFrame}}, sess)
	if err != nil {
		t.Fatalf("unregistered number must not drop the call, got %v", err)
	}
	if res.Agent != nil {
		t.Fatalf("Agent = %+v, want nil", res.Agent)
	}
	if sess.State() != StateAgentUnresolved {
		t.Fatalf("state = %s", sess.State())
	}
}

func TestRoute_CarrierLookupFailureDegrades(t *testing.T) {
	agents := &fakeAgents{byNumber: map[string]*store.Agent{}}
	carrier := &fakeCarrier{err: errors.New("timeout")}
	sess := testSession()

	res, err := New(agents, carrier, testLogger()).Route(context.Background(),
		&frameScript{frames: []string{startFrame}}, sess)
	if err != nil {
		t.Fatalf("carrier failure must not drop the call, got %v", err)
	}
	if res.DialedNumber != "" {
		t.Fatalf("DialedNumber = %q, want empty", res.DialedNumber)
	}
	if sess.State() != StateAgentUnresolved {
		t.Fatalf("state = %s", sess.State())
	}
}

func TestRoute_HandshakeFailureTerminates(t *testing.T) {
	sess := testSession()
	_, err := New(&fakeAgents{}, nil, testLogger()).Route(context.Background(), &frameScript{}, sess)
	if err == nil {
		t.Fatal("broken handshake must be a hard error")
	}
	if sess.State() != StateTerminated {
		t.Fatalf("state = %s", sess.State())
	}
}

func TestSession_TerminatedIsTerminal(t *testing.T) {
	sess := testSession()
	sess.Transition(StateTerminated)
	sess.Transition(StatePipelineRunning)
	if sess.State() != StateTerminated {
		t.Fatalf("state = %s, terminated must be terminal", sess.State())
	}
}
