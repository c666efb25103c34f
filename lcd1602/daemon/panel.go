package daemon

import (
	"context"
	"log/slog"
	"sync"

	"github.com/harveysanders/printerlcd/lcd1602/display"
	"github.com/harveysanders/printerlcd/lcd1602/layout"
	"github.com/harveysanders/printerlcd/lcd1602/lcd"
	"github.com/harveysanders/printerlcd/lcd1602/octoprint"
)

// panel is the display as the event sources and the status server see it.
// A Shutdown event from OctoPrint shows the farewell and closes the device;
// the next event with a screen, or the next progress tick, opens the device
// again behind a fresh router. panel implements octoprint.Handler,
// status.StateReporter and status.ScreenReporter.
type panel struct {
	open   func() (*display.Router, *lcd.Screen, error)
	logger *slog.Logger

	mu     sync.Mutex
	router *display.Router
	screen *lcd.Screen
	// closing is set once a Shutdown has been accepted by router.
	closing bool
	// stopped is set by the daemon's own stop. Nothing reopens after it.
	stopped bool
}

var _ octoprint.Handler = (*panel)(nil)

func newPanel(open func() (*display.Router, *lcd.Screen, error), logger *slog.Logger) (*panel, error) {
	router, screen, err := open()
	if err != nil {
		return nil, err
	}
	return &panel{open: open, logger: logger, router: router, screen: screen}, nil
}

func (p *panel) current() (*display.Router, *lcd.Screen) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.router, p.screen
}

// active returns the router to draw on, reopening the display if OctoPrint
// shut it down.
func (p *panel) active(ctx context.Context) (*display.Router, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return p.router, nil
	}
	if !p.closing {
		select {
		case <-p.router.Done():
		default:
			return p.router, nil
		}
	}

	// Let the farewell finish before the device is opened again.
	select {
	case <-p.router.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	router, screen, err := p.open()
	if err != nil {
		return nil, err
	}
	p.router, p.screen, p.closing = router, screen, false
	p.logger.Info("display:reopened")
	return router, nil
}

// stop marks the panel stopped and returns the router still to shut down.
func (p *panel) stop() *display.Router {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	return p.router
}

func (p *panel) OnEvent(ctx context.Context, ev octoprint.Event) error {
	if !reopens(ev) {
		r, _ := p.current()
		err := r.OnEvent(ctx, ev)
		if ev.Kind == octoprint.KindShutdown && err == nil {
			p.mu.Lock()
			if p.router == r {
				p.closing = true
			}
			p.mu.Unlock()
		}
		return err
	}
	r, err := p.active(ctx)
	if err != nil {
		return err
	}
	return r.OnEvent(ctx, ev)
}

func (p *panel) OnProgress(ctx context.Context, prog octoprint.Progress) error {
	r, err := p.active(ctx)
	if err != nil {
		return err
	}
	return r.OnProgress(ctx, prog)
}

// OnTemperature never reopens the display; an overlay alone has nothing to
// draw over.
func (p *panel) OnTemperature(sample octoprint.Temperatures) octoprint.Temperatures {
	r, _ := p.current()
	return r.OnTemperature(sample)
}

func (p *panel) State() display.State {
	r, _ := p.current()
	return r.State()
}

func (p *panel) Snapshot() lcd.Snapshot {
	_, s := p.current()
	return s.Snapshot()
}

// reopens reports whether ev draws a screen of its own.
func reopens(ev octoprint.Event) bool {
	switch ev.Kind {
	case octoprint.KindConnected:
		return true
	case octoprint.KindStateChanged:
		_, ok := layout.StateLabel(ev.State)
		return ok
	}
	return false
}
