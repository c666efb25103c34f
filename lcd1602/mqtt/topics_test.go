package mqtt

import (
	"context"
	"strings"
	"testing"

	"github.com/harveysanders/printerlcd/lcd1602/octoprint"
)

type recordingHandler struct {
	events   []octoprint.Event
	progress []octoprint.Progress
	temps    []octoprint.Temperatures
}

func (h *recordingHandler) OnTemperature(t octoprint.Temperatures) octoprint.Temperatures {
	h.temps = append(h.temps, t)
	return t
}

func (h *recordingHandler) OnProgress(_ context.Context, p octoprint.Progress) error {
	h.progress = append(h.progress, p)
	return nil
}

func (h *recordingHandler) OnEvent(_ context.Context, ev octoprint.Event) error {
	h.events = append(h.events, ev)
	return nil
}

func TestRouteEvent(t *testing.T) {
	tests := []struct {
		topic   string
		payload string
		want    octoprint.Event
	}{
		{
			topic:   "octoPrint/event/Connected",
			payload: `{"_event":"Connected","port":"/dev/ttyACM0","baudrate":115200}`,
			want:    octoprint.Event{Kind: octoprint.KindConnected, Name: "Connected", Port: "/dev/ttyACM0"},
		},
		{
			topic:   "octoPrint/event/PrinterStateChanged",
			payload: `{"state_id":"PAUSED","state_string":"Paused"}`,
			want:    octoprint.Event{Kind: octoprint.KindStateChanged, Name: "PrinterStateChanged", State: octoprint.StatePaused},
		},
		{
			topic: "octoPrint/event/Shutdown",
			want:  octoprint.Event{Kind: octoprint.KindShutdown, Name: "Shutdown"},
		},
		{
			topic:   "octoPrint/event/ZChange",
			payload: `{"new":0.4,"old":0.2}`,
			want:    octoprint.Event{Kind: octoprint.KindOther, Name: "ZChange"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			var h recordingHandler
			if err := Route(context.Background(), &h, DefaultPrefix, tt.topic, []byte(tt.payload)); err != nil {
				t.Fatalf("Route: %v", err)
			}
			if len(h.events) != 1 || h.events[0] != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, h.events)
			}
		})
	}
}

func TestRouteProgress(t *testing.T) {
	var h recordingHandler
	payload := `{"location":"local","path":"benchy.gcode","progress":42,"_timestamp":1700000000}`
	if err := Route(context.Background(), &h, "octoPrint", "octoPrint/progress/printing", []byte(payload)); err != nil {
		t.Fatalf("Route: %v", err)
	}
	want := octoprint.Progress{Storage: "local", Path: "benchy.gcode", Percent: 42}
	if len(h.progress) != 1 || h.progress[0] != want {
		t.Fatalf("expected %+v, got %+v", want, h.progress)
	}

	// Slicing progress is published under another subtopic and has no screen.
	Route(context.Background(), &h, DefaultPrefix, "octoPrint/progress/slicing", []byte(`{"progress":10}`))
	if len(h.progress) != 1 {
		t.Fatalf("slicing progress should be ignored, got %+v", h.progress)
	}
}

func TestRouteTemperature(t *testing.T) {
	var h recordingHandler
	ctx := context.Background()
	Route(ctx, &h, DefaultPrefix, "octoPrint/temperature/tool0", []byte(`{"actual":205.4,"target":210}`))
	Route(ctx, &h, DefaultPrefix, "octoPrint/temperature/bed", []byte(`{"actual":60,"target":60}`))
	Route(ctx, &h, DefaultPrefix, "octoPrint/temperature/chamber", []byte(`{"actual":30}`))

	if len(h.temps) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(h.temps))
	}
	if got := h.temps[0][octoprint.SampleTool]; got.Actual != 205.4 || got.Target != 210 {
		t.Errorf("unexpected tool0 sample %+v", h.temps[0])
	}
	if _, ok := h.temps[1]["B"]; !ok {
		t.Errorf("expected bed sample keyed B, got %+v", h.temps[1])
	}
}

func TestRouteIgnoresForeignTopics(t *testing.T) {
	var h recordingHandler
	ctx := context.Background()
	for _, topic := range []string{"other/event/Connected", "octoPrint/event/", "octoPrint/hello"} {
		if err := Route(ctx, &h, DefaultPrefix, topic, []byte(`{}`)); err != nil {
			t.Errorf("Route(%s): %v", topic, err)
		}
	}
	if len(h.events)+len(h.progress)+len(h.temps) != 0 {
		t.Fatalf("expected nothing routed, got %+v", h)
	}
}

func TestRouteBadPayload(t *testing.T) {
	var h recordingHandler
	err := Route(context.Background(), &h, DefaultPrefix, "octoPrint/progress/printing", []byte(`{"progress":`))
	if err == nil || !strings.Contains(err.Error(), "octoPrint/progress/printing") {
		t.Fatalf("expected decode error naming the topic, got %v", err)
	}
}

func TestFilters(t *testing.T) {
	got := Filters("printers/mk3")
	want := []string{"printers/mk3/event/+", "printers/mk3/progress/printing", "printers/mk3/temperature/+"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("filter %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestNewClientID(t *testing.T) {
	a, b := NewClientID(), NewClientID()
	if a == b {
		t.Fatal("expected distinct IDs")
	}
	if !strings.HasPrefix(a, "lcd1602-") || len(a) > 23 {
		t.Fatalf("unexpected ID %q", a)
	}
}
