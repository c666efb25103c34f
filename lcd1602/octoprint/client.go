package octoprint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotOperational is returned by CurrentTemperatures when OctoPrint has
// no printer connected (HTTP 409).
var ErrNotOperational = errors.New("octoprint: printer is not operational")

// Job is the part of the current job the display uses.
type Job struct {
	File string
	// EstimatedPrintTime is the total estimate in seconds, nil while
	// OctoPrint has none.
	EstimatedPrintTime *float64
}

// EstimatedSeconds returns the estimate rounded half to even. ok is false
// when there is no estimate.
func (j Job) EstimatedSeconds() (seconds int, ok bool) {
	if j.EstimatedPrintTime == nil || math.IsNaN(*j.EstimatedPrintTime) {
		return 0, false
	}
	return int(math.RoundToEven(*j.EstimatedPrintTime)), true
}

// Session is the result of a passive login, used to authenticate the push
// socket.
type Session struct {
	Name    string `json:"name"`
	Session string `json:"session"`
}

// Client talks to the OctoPrint REST API with an application key.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL, e.g.
// "http://octopi.local". timeout bounds each request.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("octoprint: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("octoprint: unsupported url scheme %q", u.Scheme)
	}
	return &Client{
		baseURL: u,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// CurrentTemperatures returns the heater readings keyed "tool0", "bed", ...
func (c *Client) CurrentTemperatures(ctx context.Context) (Temperatures, error) {
	var body struct {
		Temperature map[string]json.RawMessage `json:"temperature"`
	}
	if err := c.get(ctx, "/api/printer?exclude=sd,state", &body); err != nil {
		return nil, err
	}
	temps := make(Temperatures, len(body.Temperature))
	for tool, raw := range body.Temperature {
		var t Temperature
		// "history" and other non-heater entries don't decode; skip them.
		if err := json.Unmarshal(raw, &t); err != nil {
			continue
		}
		temps[tool] = t
	}
	return temps, nil
}

// CurrentJob returns the active job.
func (c *Client) CurrentJob(ctx context.Context) (Job, error) {
	var body struct {
		Job struct {
			File struct {
				Name string `json:"name"`
			} `json:"file"`
			EstimatedPrintTime *float64 `json:"estimatedPrintTime"`
		} `json:"job"`
	}
	if err := c.get(ctx, "/api/job", &body); err != nil {
		return Job{}, err
	}
	return Job{
		File:               body.Job.File.Name,
		EstimatedPrintTime: body.Job.EstimatedPrintTime,
	}, nil
}

// Login performs a passive login with the API key.
func (c *Client) Login(ctx context.Context) (Session, error) {
	var s Session
	payload := []byte(`{"passive":true}`)
	req, err := c.newRequest(ctx, http.MethodPost, "/api/login", bytes.NewReader(payload))
	if err != nil {
		return s, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.do(req, &s); err != nil {
		return s, err
	}
	if s.Name == "" || s.Session == "" {
		return s, errors.New("octoprint: login returned no session")
	}
	return s, nil
}

// SocketURL is the websocket endpoint of the push API.
func (c *Client) SocketURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/sockjs/websocket"
	return u.String()
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + ref.Path
	u.RawQuery = ref.RawQuery
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("octoprint: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return ErrNotOperational
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("octoprint: %s %s: %s: %s", req.Method, req.URL.Path, resp.Status, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("octoprint: decode %s: %w", req.URL.Path, err)
	}
	return nil
}
