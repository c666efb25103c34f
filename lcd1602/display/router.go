// Package display turns printer events into screens on a 16x2 LCD.
//
// A Router owns the device. Events, progress ticks and temperature samples
// are queued and rendered one at a time by Run, so two renders never
// interleave on the bus:
//
//	router, err := display.NewRouter(dev, cache, display.Config{}, logger)
//	if err != nil {
//		return err
//	}
//	go router.Run(ctx)
//
//	// From any goroutine.
//	router.OnEvent(ctx, octoprint.Event{Kind: octoprint.KindConnected, Port: "/dev/ttyACM0"})
package display

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harveysanders/printerlcd/lcd1602/layout"
	"github.com/harveysanders/printerlcd/lcd1602/lcd"
	"github.com/harveysanders/printerlcd/lcd1602/octoprint"
)

// ErrPreempted is returned by a render that was abandoned because the
// display is shutting down.
var ErrPreempted = errors.New("display: preempted by shutdown")

// StatusProvider answers the queries a progress render needs.
type StatusProvider interface {
	CurrentTemperatures(ctx context.Context) (octoprint.Temperatures, error)
	CurrentJob(ctx context.Context) (octoprint.Job, error)
}

// Config tunes a Router. Zero fields take their defaults.
type Config struct {
	// FrameDelay is the pause after each completion animation frame.
	// Default 500ms.
	FrameDelay time.Duration
	// QueueSize is how many renders may wait for the display. Default 32.
	QueueSize int
	// StatusTimeout bounds the status queries of one progress render.
	// Default 5s.
	StatusTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FrameDelay == 0 {
		c.FrameDelay = 500 * time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 32
	}
	if c.StatusTimeout <= 0 {
		c.StatusTimeout = 5 * time.Second
	}
	return c
}

// Router renders printer activity. It implements octoprint.Handler.
type Router struct {
	cfg    Config
	status StatusProvider
	logger *slog.Logger

	jobs chan job
	done chan struct{}

	// stopping is cancelled while a Shutdown event is being queued or waits
	// in the queue, so a running animation gives way without waiting for its
	// turn. Guarded by preempt.
	preempt        sync.Mutex
	stopping       context.Context
	stop           context.CancelFunc
	shutdownQueued bool

	state atomic.Int32

	// Owned by Run.
	ds       displayState
	animated bool
}

var _ octoprint.Handler = (*Router)(nil)

type job struct {
	render string
	run    func(ctx context.Context) error
	ack    chan struct{}
}

// NewRouter registers the custom glyphs on dev and returns a router that
// draws on it. status may be nil, in which case progress screens show no
// temperature or time.
func NewRouter(dev lcd.Device, status StatusProvider, cfg Config, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
	}
	if err := lcd.RegisterGlyphs(dev); err != nil {
		return nil, fmt.Errorf("register glyphs: %w", err)
	}
	cfg = cfg.withDefaults()
	stopping, stop := context.WithCancel(context.Background())
	r := &Router{
		cfg:      cfg,
		status:   status,
		logger:   logger,
		jobs:     make(chan job, cfg.QueueSize),
		done:     make(chan struct{}),
		stopping: stopping,
		stop:     stop,
		ds:       displayState{dev: dev, backlight: true},
	}
	r.setState(StateIdle)
	return r, nil
}

// Run renders queued work until ctx is done or a Shutdown event has been
// rendered. Run must be called exactly once.
func (r *Router) Run(ctx context.Context) error {
	defer close(r.done)
	defer r.interrupt()
	r.logger.Info("display:running", slog.Int("queue", r.cfg.QueueSize))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-r.jobs:
			r.process(ctx, j)
			if r.ds.closed {
				r.logger.Info("display:closed")
				return nil
			}
		}
	}
}

// Done is closed once Run has returned.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// State reports what the display last showed.
func (r *Router) State() State {
	return State(r.state.Load())
}

// Sync waits until everything submitted before it has been rendered.
func (r *Router) Sync(ctx context.Context) error {
	ack := make(chan struct{})
	if err := r.submit(ctx, job{render: "sync", ack: ack}); err != nil {
		return err
	}
	select {
	case <-ack:
		return nil
	case <-r.done:
		select {
		case <-ack:
			return nil
		default:
			return lcd.ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnTemperature queues the header temperature overlay and returns sample
// unchanged. A missing, zero or NaN tool reading leaves the header alone.
// The overlay is dropped when the queue is full.
func (r *Router) OnTemperature(sample octoprint.Temperatures) octoprint.Temperatures {
	t, ok := sample[octoprint.SampleTool]
	if !ok || t.Actual == 0 || math.IsNaN(t.Actual) {
		return sample
	}
	j := job{
		render: "temperature",
		run: func(context.Context) error {
			return r.ds.put(layout.Line{Row: 0, Col: 0, Text: layout.Temperature(t.Actual)})
		},
	}
	select {
	case <-r.done:
		return sample
	default:
	}
	select {
	case r.jobs <- j:
	default:
		temperatureDroppedTotal.Inc()
		r.logger.Debug("display:temperature-dropped")
	}
	return sample
}

// OnProgress queues a progress screen. At 100% the completion animation
// follows, once per job.
func (r *Router) OnProgress(ctx context.Context, p octoprint.Progress) error {
	return r.submit(ctx, job{
		render: "progress",
		run: func(ctx context.Context) error {
			return r.renderProgress(ctx, p.Percent)
		},
	})
}

// OnEvent queues the screen for ev. Events without a screen are ignored
// without touching the device. A Shutdown event interrupts a running
// animation.
func (r *Router) OnEvent(ctx context.Context, ev octoprint.Event) error {
	switch ev.Kind {
	case octoprint.KindConnected:
		return r.submit(ctx, job{
			render: "connected",
			run: func(context.Context) error {
				r.setState(StateConnected)
				return r.ds.draw(layout.Connected(ev.Port)...)
			},
		})

	case octoprint.KindShutdown:
		return r.submitShutdown(ctx)

	case octoprint.KindStateChanged:
		line, ok := layout.StateLine(ev.State)
		if !ok {
			r.logger.Debug("display:state-ignored", slog.String("state", ev.State.String()))
			return nil
		}
		return r.submit(ctx, job{
			render: "state",
			run: func(context.Context) error {
				return r.renderState(ev.State, line)
			},
		})
	}
	return nil
}

// submitShutdown queues the farewell. A running animation is cut short while
// the caller waits for room in the queue. If the Shutdown is not accepted,
// later animations play in full again.
func (r *Router) submitShutdown(ctx context.Context) error {
	r.interrupt()
	err := r.submit(ctx, job{render: "shutdown", run: r.renderShutdown})

	r.preempt.Lock()
	defer r.preempt.Unlock()
	switch {
	case err == nil:
		r.shutdownQueued = true
		r.stop()
	case !r.shutdownQueued && !errors.Is(err, lcd.ErrClosed):
		r.stopping, r.stop = context.WithCancel(context.Background())
	}
	return err
}

// interrupt cancels the running animation, if any.
func (r *Router) interrupt() {
	r.preempt.Lock()
	r.stop()
	r.preempt.Unlock()
}

func (r *Router) stoppingContext() context.Context {
	r.preempt.Lock()
	defer r.preempt.Unlock()
	return r.stopping
}

func (r *Router) submit(ctx context.Context, j job) error {
	select {
	case <-r.done:
		return lcd.ErrClosed
	default:
	}
	select {
	case r.jobs <- j:
		queueDepth.Set(float64(len(r.jobs)))
		return nil
	case <-r.done:
		return lcd.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) process(ctx context.Context, j job) {
	queueDepth.Set(float64(len(r.jobs)))
	if j.ack != nil {
		close(j.ack)
		return
	}

	start := time.Now()
	err := r.safeRun(ctx, j)
	renderDuration.WithLabelValues(j.render).Observe(time.Since(start).Seconds())

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrPreempted):
		result = "preempted"
		r.logger.Info("display:render-preempted", slog.String("render", j.render))
	default:
		result = "error"
		if errors.Is(err, lcd.ErrDeviceUnavailable) {
			deviceErrorsTotal.Inc()
		}
		r.logger.Warn("display:render-failed", slog.String("render", j.render), slog.Any("reason", err))
	}
	rendersTotal.WithLabelValues(j.render, result).Inc()
}

// safeRun keeps a panicking render from taking the router down.
func (r *Router) safeRun(ctx context.Context, j job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("render panic: %v\n%s", p, debug.Stack())
		}
	}()
	if r.ds.closed {
		return lcd.ErrClosed
	}
	return j.run(ctx)
}

func (r *Router) setState(s State) {
	prev := State(r.state.Swap(int32(s)))
	stateGauge.WithLabelValues(prev.String()).Set(0)
	stateGauge.WithLabelValues(s.String()).Set(1)
}

func (r *Router) renderState(s octoprint.State, line layout.Line) error {
	switch s {
	case octoprint.StateOffline:
		r.setState(StateDisconnected)
		if err := r.ds.draw(line); err != nil {
			return err
		}
		return r.ds.setBacklight(false)

	case octoprint.StateOperational:
		r.setState(StateIdle)
		if err := r.ds.setBacklight(true); err != nil {
			return err
		}
		return r.ds.draw(line)
	}

	switch s {
	case octoprint.StateCancelling:
		r.setState(StateCancelling)
	case octoprint.StatePaused:
		r.setState(StatePaused)
	case octoprint.StateResuming:
		r.setState(StatePrinting)
	case octoprint.StatePrintCancelled:
		r.setState(StateIdle)
	}
	return r.ds.draw(line)
}

func (r *Router) renderProgress(ctx context.Context, percent int) error {
	actual := math.NaN()
	var (
		est      int
		estKnown bool
	)
	if r.status != nil {
		sctx, cancel := context.WithTimeout(ctx, r.cfg.StatusTimeout)
		temps, err := r.status.CurrentTemperatures(sctx)
		if err != nil {
			r.logger.Warn("display:temperature-unavailable", slog.Any("reason", err))
		}
		if t, ok := temps[octoprint.StatusTool]; ok {
			actual = t.Actual
		}
		job, err := r.status.CurrentJob(sctx)
		if err != nil {
			r.logger.Warn("display:job-unavailable", slog.Any("reason", err))
		}
		est, estKnown = job.EstimatedSeconds()
		cancel()
	}

	if percent < 100 {
		r.animated = false
		r.setState(StatePrinting)
	}
	if err := r.ds.draw(layout.Progress(actual, percent, est, estKnown)...); err != nil {
		return err
	}
	if percent < 100 || r.animated {
		return nil
	}
	r.animated = true
	r.setState(StateIdle)
	return r.animate(ctx)
}

// animate plays the completion frames on the bottom row and leaves the
// completion screen.
func (r *Router) animate(ctx context.Context) error {
	for col, frame := range layout.CompletionFrames {
		if err := r.ds.put(layout.Line{Row: 1, Col: col, Text: frame}); err != nil {
			animationsTotal.WithLabelValues("failed").Inc()
			return err
		}
		if err := r.wait(ctx, r.cfg.FrameDelay); err != nil {
			animationsTotal.WithLabelValues("preempted").Inc()
			return err
		}
		if err := r.ds.clear(); err != nil {
			animationsTotal.WithLabelValues("failed").Inc()
			return err
		}
	}
	for _, l := range layout.Completion() {
		if err := r.ds.put(l); err != nil {
			animationsTotal.WithLabelValues("failed").Inc()
			return err
		}
	}
	animationsTotal.WithLabelValues("completed").Inc()
	return nil
}

func (r *Router) wait(ctx context.Context, d time.Duration) error {
	stopping := r.stoppingContext()
	if stopping.Err() != nil {
		return ErrPreempted
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-stopping.Done():
		return ErrPreempted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// renderShutdown says goodbye and releases the device. Every step is tried
// even when an earlier one fails.
func (r *Router) renderShutdown(context.Context) error {
	r.setState(StateShuttingDown)
	var errs []error
	if err := r.ds.clear(); err != nil {
		errs = append(errs, err)
	}
	if err := r.ds.put(layout.Line{Row: 0, Col: 0, Text: layout.Farewell}); err != nil {
		errs = append(errs, err)
	}
	if err := r.ds.setBacklight(false); err != nil {
		errs = append(errs, err)
	}
	if err := r.ds.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
