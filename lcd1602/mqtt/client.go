// Package mqtt subscribes to the OctoPrint MQTT plugin and feeds printer
// events, progress and temperatures to an octoprint.Handler.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harveysanders/printerlcd/lcd1602/octoprint"
	mqtt "github.com/soypat/natiu-mqtt"
)

// Client is an MQTT subscriber. The zero value is not usable; set at least
// Addr and Handler, or use NewClient.
type Client struct {
	ID       string
	Addr     string // host:port of the broker
	Prefix   string // base topic, DefaultPrefix when empty
	Username string // optional
	Password string // optional, requires Username

	Timeout        time.Duration // dial, connect and subscribe
	KeepAlive      time.Duration
	ReconnectDelay time.Duration

	Handler octoprint.Handler
	Logger  *slog.Logger
}

// NewClient returns a subscriber with a random client ID and default
// timings.
func NewClient(addr string, h octoprint.Handler, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
	}
	return &Client{
		ID:             NewClientID(),
		Addr:           addr,
		Prefix:         DefaultPrefix,
		Timeout:        10 * time.Second,
		KeepAlive:      30 * time.Second,
		ReconnectDelay: 5 * time.Second,
		Handler:        h,
		Logger:         logger,
	}
}

// NewClientID returns "lcd1602-" followed by 15 random hex digits, which
// keeps the ID within the 23 bytes every MQTT 3.1.1 broker must accept.
func NewClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "lcd1602-" + id[:15]
}

// Run connects, subscribes and dispatches messages until ctx is done. A lost
// connection is retried after ReconnectDelay.
func (c *Client) Run(ctx context.Context) error {
	c.Logger.Info("mqtt:starting", slog.String("addr", c.Addr), slog.String("id", c.ID))
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Logger.Error("mqtt:disconnected", slog.Any("reason", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.ReconnectDelay):
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.Timeout}
	c.Logger.Info("socket:dialing", slog.String("addr", c.Addr))
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.Addr, err)
	}
	defer conn.Close()

	// Closing the connection is what unblocks HandleNext; a read timeout
	// would be swallowed by the client.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var handleErr error
	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 4096)},
		OnPub: func(_ mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
			payload, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			topic := string(varPub.TopicName)
			c.Logger.Debug("mqtt:received", slog.String("topic", topic), slog.Int("bytes", len(payload)))
			if err := Route(ctx, c.Handler, c.Prefix, topic, payload); err != nil {
				handleErr = fmt.Errorf("%s: %w", topic, err)
			}
			return nil
		},
	})

	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(c.ID))
	varconn.KeepAlive = uint16(c.KeepAlive / time.Second)
	if c.Username != "" {
		varconn.Username = []byte(c.Username)
		if c.Password != "" {
			varconn.Password = []byte(c.Password)
		}
	}

	c.Logger.Info("mqtt:start-connecting")
	cctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	conn.SetDeadline(time.Now().Add(c.Timeout))
	if err := client.Connect(cctx, conn, &varconn); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	filters := Filters(c.Prefix)
	sub := mqtt.VariablesSubscribe{PacketIdentifier: 1}
	for _, f := range filters {
		sub.TopicFilters = append(sub.TopicFilters, mqtt.SubscribeRequest{TopicFilter: []byte(f), QoS: mqtt.QoS0})
	}
	if err := client.Subscribe(cctx, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if len(client.SubscribedTopics()) == 0 {
		return errors.New("subscribe: broker refused every filter")
	}
	c.Logger.Info("mqtt:subscribed", slog.Any("filters", filters))
	conn.SetDeadline(time.Time{})

	kctx, kcancel := context.WithCancel(ctx)
	defer kcancel()
	kaErr := make(chan error, 1)
	go func() { kaErr <- c.keepAlive(kctx, conn, client) }()

	var loopErr error
	for loopErr == nil {
		err := client.HandleNext()
		if handleErr != nil {
			c.Logger.Warn("mqtt:handle-failed", slog.Any("reason", handleErr))
			handleErr = nil
		}
		switch {
		case ctx.Err() != nil:
			loopErr = ctx.Err()
		case err != nil:
			loopErr = fmt.Errorf("handle next: %w", err)
		case !client.IsConnected():
			loopErr = client.Err()
		}
	}
	kcancel()
	if err := <-kaErr; err != nil && ctx.Err() == nil {
		return err
	}
	return loopErr
}

// keepAlive sends a PINGREQ whenever nothing has been written for half the
// keep-alive interval. A ping left unanswered for Timeout closes conn, which
// ends the session. A zero KeepAlive disables pings.
func (c *Client) keepAlive(ctx context.Context, conn net.Conn, client *mqtt.Client) error {
	if c.KeepAlive <= 0 {
		return nil
	}
	idle := c.KeepAlive / 2
	tick := time.NewTicker(idle / 2)
	defer tick.Stop()

	var pingSent time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
		if !client.IsConnected() {
			return nil
		}
		if client.AwaitingPingresp() {
			if time.Since(pingSent) < c.Timeout {
				continue
			}
			conn.Close()
			return fmt.Errorf("ping: no response within %s", c.Timeout)
		}
		if time.Since(client.LastTx()) < idle {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(c.Timeout))
		if err := client.StartPing(); err != nil {
			conn.Close()
			return fmt.Errorf("ping: %w", err)
		}
		pingSent = time.Now()
		c.Logger.Debug("mqtt:ping")
	}
}
