package octoprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Socket reads the OctoPrint push API and forwards events, temperature
// samples and progress ticks to a Handler.
type Socket struct {
	Client         *Client
	Handler        Handler
	Logger         *slog.Logger
	ReconnectDelay time.Duration

	lastPercent int
}

// NewSocket returns a push API reader. A nil logger discards output.
func NewSocket(client *Client, h Handler, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Socket{
		Client:         client,
		Handler:        h,
		Logger:         logger,
		ReconnectDelay: 5 * time.Second,
		lastPercent:    -1,
	}
}

// Run connects and reads until ctx is done, reconnecting after
// ReconnectDelay whenever the connection drops.
func (s *Socket) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.Logger.Error("socket:disconnected", slog.Any("reason", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.ReconnectDelay):
		}
	}
}

func (s *Socket) session(ctx context.Context) error {
	sess, err := s.Client.Login(ctx)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	addr := s.Client.SocketURL()
	s.Logger.Info("socket:dialing", slog.String("url", addr))
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	auth := map[string]string{"auth": sess.Name + ":" + sess.Session}
	if err := wsjson.Write(ctx, conn, auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	s.Logger.Info("socket:connected", slog.String("user", sess.Name))

	for {
		var msg map[string]json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				return fmt.Errorf("closed by server: %d %s", ce.Code, ce.Reason)
			}
			return err
		}
		if err := s.handle(ctx, msg); err != nil {
			s.Logger.Warn("socket:handle-failed", slog.Any("reason", err))
		}
	}
}

type socketEvent struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type socketCurrent struct {
	Job struct {
		File struct {
			Path   string `json:"path"`
			Origin string `json:"origin"`
		} `json:"file"`
	} `json:"job"`
	Progress struct {
		Completion *float64 `json:"completion"`
	} `json:"progress"`
	Temps []map[string]json.RawMessage `json:"temps"`
}

// handle dispatches one push message. Message types other than "event",
// "current" and "history" are ignored.
func (s *Socket) handle(ctx context.Context, msg map[string]json.RawMessage) error {
	if raw, ok := msg["event"]; ok {
		var ev socketEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		return s.Handler.OnEvent(ctx, ParseEvent(ev.Type, ev.Payload))
	}
	for _, key := range []string{"current", "history"} {
		raw, ok := msg[key]
		if !ok {
			continue
		}
		var cur socketCurrent
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return s.handleCurrent(ctx, cur)
	}
	return nil
}

func (s *Socket) handleCurrent(ctx context.Context, cur socketCurrent) error {
	if n := len(cur.Temps); n > 0 {
		if raw, ok := cur.Temps[n-1][StatusTool]; ok {
			var t Temperature
			if err := json.Unmarshal(raw, &t); err != nil {
				return fmt.Errorf("decode temps: %w", err)
			}
			s.Handler.OnTemperature(Temperatures{SampleTool: t})
		}
	}

	if cur.Progress.Completion == nil {
		s.lastPercent = -1
		return nil
	}
	percent := int(*cur.Progress.Completion)
	if percent == s.lastPercent {
		return nil
	}
	s.lastPercent = percent
	return s.Handler.OnProgress(ctx, Progress{
		Storage: cur.Job.File.Origin,
		Path:    cur.Job.File.Path,
		Percent: percent,
	})
}
