package octoprint

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type recordingHandler struct {
	mu       sync.Mutex
	events   []Event
	progress []Progress
	temps    []Temperatures
}

func (h *recordingHandler) OnTemperature(sample Temperatures) Temperatures {
	h.mu.Lock()
	h.temps = append(h.temps, sample)
	h.mu.Unlock()
	return sample
}

func (h *recordingHandler) OnProgress(_ context.Context, p Progress) error {
	h.mu.Lock()
	h.progress = append(h.progress, p)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) OnEvent(_ context.Context, ev Event) error {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) counts() (events, progress, temps int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events), len(h.progress), len(h.temps)
}

func decode(t *testing.T, s string) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("decode %s: %v", s, err)
	}
	return m
}

func TestSocketHandleEvent(t *testing.T) {
	h := &recordingHandler{}
	s := NewSocket(nil, h, nil)
	msg := decode(t, `{"event":{"type":"PrinterStateChanged","payload":{"state_id":"PAUSED","state_string":"Paused"}}}`)
	if err := s.handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(h.events) != 1 || h.events[0].Kind != KindStateChanged || h.events[0].State != StatePaused {
		t.Fatalf("events = %+v", h.events)
	}
}

func TestSocketHandleCurrent(t *testing.T) {
	h := &recordingHandler{}
	s := NewSocket(nil, h, nil)
	ctx := context.Background()
	current := func(completion string) map[string]json.RawMessage {
		return decode(t, `{"current":{
			"state":{"text":"Printing","flags":{"printing":true}},
			"job":{"file":{"path":"benchy.gcode","origin":"local"}},
			"progress":{"completion":`+completion+`},
			"temps":[{"time":1,"tool0":{"actual":190.0,"target":210.0}},{"time":2,"tool0":{"actual":205.4,"target":210.0},"bed":{"actual":60,"target":60}}]
		}}`)
	}

	for _, c := range []string{"42.1", "42.9", "43.0", "null", "43.0"} {
		if err := s.handle(ctx, current(c)); err != nil {
			t.Fatalf("handle %s: %v", c, err)
		}
	}

	if len(h.temps) != 5 {
		t.Fatalf("temps = %d, want one per message", len(h.temps))
	}
	if got := h.temps[0][SampleTool].Actual; got != 205.4 {
		t.Fatalf("sample = %v, want last entry", got)
	}
	want := []Progress{
		{Storage: "local", Path: "benchy.gcode", Percent: 42},
		{Storage: "local", Path: "benchy.gcode", Percent: 43},
		{Storage: "local", Path: "benchy.gcode", Percent: 43},
	}
	if len(h.progress) != len(want) {
		t.Fatalf("progress = %+v, want %+v", h.progress, want)
	}
	for i := range want {
		if h.progress[i] != want[i] {
			t.Fatalf("progress[%d] = %+v, want %+v", i, h.progress[i], want[i])
		}
	}
}

func TestSocketRun(t *testing.T) {
	var gotAuth map[string]string
	authed := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"lcd","session":"s1"}`))
	})
	mux.HandleFunc("/sockjs/websocket", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		if err := wsjson.Read(ctx, conn, &gotAuth); err != nil {
			t.Errorf("read auth: %v", err)
			return
		}
		close(authed)
		_ = wsjson.Write(ctx, conn, map[string]any{"connected": map[string]any{"version": "1.10.0"}})
		_ = wsjson.Write(ctx, conn, map[string]any{"event": map[string]any{
			"type": "Connected", "payload": map[string]any{"port": "/dev/ttyACM0", "baudrate": 115200},
		}})
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewClient(srv.URL, "k", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	h := &recordingHandler{}
	s := NewSocket(c, h, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		if n, _, _ := h.counts(); n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for event")
		case <-time.After(10 * time.Millisecond):
		}
	}
	<-authed
	if gotAuth["auth"] != "lcd:s1" {
		t.Fatalf("auth = %+v", gotAuth)
	}
	h.mu.Lock()
	ev := h.events[0]
	h.mu.Unlock()
	if ev.Kind != KindConnected || ev.Port != "/dev/ttyACM0" {
		t.Fatalf("event = %+v", ev)
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
