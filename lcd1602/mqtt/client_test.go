package mqtt

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/harveysanders/printerlcd/lcd1602/octoprint"
)

const (
	packetConnect   = 1
	packetSubscribe = 8
	packetPingreq   = 12
)

// fakeBroker speaks just enough MQTT 3.1.1 for one subscriber: CONNACK,
// SUBACK granting QoS 0 and, when answerPings is set, PINGRESP.
type fakeBroker struct {
	ln          net.Listener
	answerPings bool
	// onSubscribe runs after the SUBACK has been written.
	onSubscribe func(conn net.Conn)
	packets     chan byte
}

func newFakeBroker(t *testing.T, answerPings bool, onSubscribe func(net.Conn)) *fakeBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	b := &fakeBroker{
		ln:          ln,
		answerPings: answerPings,
		onSubscribe: onSubscribe,
		packets:     make(chan byte, 64),
	}
	t.Cleanup(func() { ln.Close() })
	go b.serve()
	return b
}

func (b *fakeBroker) Addr() string { return b.ln.Addr().String() }

func (b *fakeBroker) serve() {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		go b.handle(conn)
	}
}

func (b *fakeBroker) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		typ, body, err := readPacket(r)
		if err != nil {
			return
		}
		select {
		case b.packets <- typ:
		default:
		}
		switch typ {
		case packetConnect:
			conn.Write([]byte{0x20, 0x02, 0x00, 0x00})
		case packetSubscribe:
			ack := []byte{0x90, 0, body[0], body[1]}
			for i := 2; i+2 <= len(body); {
				i += 2 + int(binary.BigEndian.Uint16(body[i:])) + 1
				ack = append(ack, 0x00)
			}
			ack[1] = byte(len(ack) - 2)
			conn.Write(ack)
			if b.onSubscribe != nil {
				b.onSubscribe(conn)
			}
		case packetPingreq:
			if b.answerPings {
				conn.Write([]byte{0xD0, 0x00})
			}
		}
	}
}

// waitFor returns the packet types seen until want arrives or d elapses.
func (b *fakeBroker) waitFor(want byte, d time.Duration) ([]byte, bool) {
	var seen []byte
	deadline := time.After(d)
	for {
		select {
		case typ := <-b.packets:
			seen = append(seen, typ)
			if typ == want {
				return seen, true
			}
		case <-deadline:
			return seen, false
		}
	}
}

func readPacket(r *bufio.Reader) (byte, []byte, error) {
	hdr, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	n, shift := 0, 0
	for {
		c, err := r.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		n |= int(c&0x7F) << shift
		if c&0x80 == 0 {
			break
		}
		shift += 7
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return hdr >> 4, body, nil
}

func writePublish(w io.Writer, topic, payload string) error {
	body := binary.BigEndian.AppendUint16(nil, uint16(len(topic)))
	body = append(body, topic...)
	body = append(body, payload...)
	pkt := []byte{0x30}
	for n := len(body); ; {
		c := byte(n & 0x7F)
		n >>= 7
		if n > 0 {
			c |= 0x80
		}
		pkt = append(pkt, c)
		if n == 0 {
			break
		}
	}
	_, err := w.Write(append(pkt, body...))
	return err
}

type eventHandler struct {
	events chan octoprint.Event
}

func (h eventHandler) OnTemperature(t octoprint.Temperatures) octoprint.Temperatures { return t }

func (h eventHandler) OnProgress(context.Context, octoprint.Progress) error { return nil }

func (h eventHandler) OnEvent(_ context.Context, ev octoprint.Event) error {
	h.events <- ev
	return nil
}

func runClient(t *testing.T, c *Client) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	var result error
	stopped := false
	cancel = func() error {
		if !stopped {
			stopped = true
			stop()
			select {
			case result = <-done:
			case <-time.After(5 * time.Second):
				t.Error("client did not stop")
			}
		}
		return result
	}
	t.Cleanup(func() { cancel() })
	return cancel
}

func TestClientKeepAlive(t *testing.T) {
	broker := newFakeBroker(t, true, nil)
	c := NewClient(broker.Addr(), eventHandler{events: make(chan octoprint.Event, 8)}, nil)
	c.KeepAlive = time.Second
	stop := runClient(t, c)

	seen, ok := broker.waitFor(packetPingreq, 3*time.Second)
	if !ok {
		t.Fatalf("no PINGREQ within 3s with a 1s keep-alive, packets %v", seen)
	}
	if len(seen) < 3 || seen[0] != packetConnect || seen[1] != packetSubscribe {
		t.Fatalf("unexpected packet order %v", seen)
	}
	// The session stays up across pings.
	if seen, ok := broker.waitFor(packetPingreq, 3*time.Second); !ok {
		t.Fatalf("no second PINGREQ, packets %v", seen)
	}
	if seen, ok := broker.waitFor(packetConnect, 100*time.Millisecond); ok {
		t.Fatalf("client reconnected, packets %v", seen)
	}

	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestClientDeliversEvents(t *testing.T) {
	broker := newFakeBroker(t, true, func(conn net.Conn) {
		writePublish(conn, "octoPrint/event/Connected", `{"port":"/dev/ttyACM0","baudrate":115200}`)
		writePublish(conn, "octoPrint/event/Shutdown", ``)
	})
	h := eventHandler{events: make(chan octoprint.Event, 8)}
	runClient(t, NewClient(broker.Addr(), h, nil))

	want := []octoprint.Event{
		{Kind: octoprint.KindConnected, Name: "Connected", Port: "/dev/ttyACM0"},
		{Kind: octoprint.KindShutdown, Name: "Shutdown"},
	}
	for _, w := range want {
		select {
		case ev := <-h.events:
			if ev != w {
				t.Fatalf("got event %+v, want %+v", ev, w)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("event %s never arrived", w.Name)
		}
	}
}

func TestClientUnansweredPingEndsSession(t *testing.T) {
	broker := newFakeBroker(t, false, nil)
	c := NewClient(broker.Addr(), eventHandler{events: make(chan octoprint.Event, 8)}, nil)
	c.KeepAlive = time.Second
	c.Timeout = 500 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.session(ctx)
	if err == nil || ctx.Err() != nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected a ping failure, got %v", err)
	}
}

func TestClientRunStopsWhileConnected(t *testing.T) {
	broker := newFakeBroker(t, true, nil)
	c := NewClient(broker.Addr(), eventHandler{events: make(chan octoprint.Event, 8)}, nil)
	stop := runClient(t, c)

	if seen, ok := broker.waitFor(packetSubscribe, 3*time.Second); !ok {
		t.Fatalf("client never subscribed, packets %v", seen)
	}
	start := time.Now()
	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("Run took %s to stop", d)
	}
}
