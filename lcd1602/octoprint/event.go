// Package octoprint holds the printer-side types the display reacts to and
// the adapters that read them from an OctoPrint server: the REST status
// API and the push socket.
package octoprint

import "context"

// Kind classifies an event from the OctoPrint event bus.
type Kind int

const (
	KindOther Kind = iota
	KindConnected
	KindShutdown
	KindStateChanged
)

func (k Kind) String() string {
	switch k {
	case KindConnected:
		return "Connected"
	case KindShutdown:
		return "Shutdown"
	case KindStateChanged:
		return "PrinterStateChanged"
	default:
		return "Other"
	}
}

// State is a printer state carried by a PrinterStateChanged event.
type State int

const (
	StateUnhandled State = iota
	StateOffline
	StateOperational
	StateCancelling
	StatePrintCancelled
	StatePaused
	StateResuming
)

var stateNames = map[string]State{
	"Offline":        StateOffline,
	"Operational":    StateOperational,
	"Cancelling":     StateCancelling,
	"PrintCancelled": StatePrintCancelled,
	"Paused":         StatePaused,
	"Resuming":       StateResuming,
}

func (s State) String() string {
	for name, st := range stateNames {
		if st == s {
			return name
		}
	}
	return "Unhandled"
}

// ParseState matches a state_string exactly. Anything else is
// StateUnhandled.
func ParseState(s string) State {
	return stateNames[s]
}

// Event is one event from the bus, reduced to what the display uses.
type Event struct {
	Kind  Kind
	Name  string
	Port  string // KindConnected
	State State  // KindStateChanged
}

// Event names the display reacts to.
const (
	EventConnected           = "Connected"
	EventShutdown            = "Shutdown"
	EventPrinterStateChanged = "PrinterStateChanged"
)

// ParseEvent classifies an event by exact name. payload is the event's
// JSON payload decoded into a map; "port" and "state_string" are read when
// present and of string type.
func ParseEvent(name string, payload map[string]any) Event {
	ev := Event{Name: name}
	switch name {
	case EventConnected:
		ev.Kind = KindConnected
		ev.Port, _ = payload["port"].(string)
	case EventShutdown:
		ev.Kind = KindShutdown
	case EventPrinterStateChanged:
		ev.Kind = KindStateChanged
		s, _ := payload["state_string"].(string)
		ev.State = ParseState(s)
	default:
		ev.Kind = KindOther
	}
	return ev
}

// Temperature is one heater reading in degrees Celsius.
type Temperature struct {
	Actual float64 `json:"actual"`
	Target float64 `json:"target"`
}

// Temperatures maps a tool identifier to its reading. Samples parsed from
// the printer serial line use "T0"; the REST API reports the same tool as
// "tool0".
type Temperatures map[string]Temperature

const (
	SampleTool = "T0"
	StatusTool = "tool0"
)

// Progress is a print progress tick.
type Progress struct {
	Storage string
	Path    string
	Percent int
}

// Handler receives everything the event sources produce.
type Handler interface {
	// OnTemperature consumes a sample and returns it unchanged.
	OnTemperature(sample Temperatures) Temperatures
	OnProgress(ctx context.Context, p Progress) error
	OnEvent(ctx context.Context, ev Event) error
}
