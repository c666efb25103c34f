// Package daemon runs the display as a service: it opens the LCD, starts the
// router, the event source and the status server, and shows the farewell
// screen on stop. When OctoPrint shuts the display down, the daemon keeps
// running and opens it again on the next printer event.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/judwhite/go-svc"

	"github.com/harveysanders/printerlcd/lcd1602/config"
	"github.com/harveysanders/printerlcd/lcd1602/display"
	"github.com/harveysanders/printerlcd/lcd1602/lcd"
	"github.com/harveysanders/printerlcd/lcd1602/mqtt"
	"github.com/harveysanders/printerlcd/lcd1602/octoprint"
	"github.com/harveysanders/printerlcd/lcd1602/status"
)

// Build variables, injected at link time.
var (
	Version   = "dev"
	BuildDate = "unknown"
)

// stopTimeout bounds the farewell render and the HTTP shutdown.
const stopTimeout = 10 * time.Second

// Program implements svc.Service.
type Program struct {
	// ConfigPath is the configuration file, empty for defaults.
	ConfigPath string
	// Override is applied after the file and the environment, before
	// validation. The CLI uses it for flags.
	Override func(*config.Config)
	// LogOutput receives the log, os.Stderr when nil.
	LogOutput io.Writer

	cfg    config.Config
	logger *slog.Logger

	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	sourceCancel context.CancelFunc

	provider   display.StatusProvider
	panel      *panel
	httpServer *http.Server
}

var _ svc.Service = (*Program)(nil)

// Init loads the configuration and sets up logging.
func (p *Program) Init(env svc.Environment) error {
	cfg, err := config.Resolve(p.ConfigPath, p.Override)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	level, _ := cfg.Level()
	out := p.LogOutput
	if out == nil {
		out = os.Stderr
	}
	p.cfg = cfg
	p.logger = NewLogger(out, level)

	service := env != nil && env.IsWindowsService()
	p.logger.Info("daemon:init",
		slog.String("version", Version),
		slog.String("build", BuildDate),
		slog.String("source", cfg.Source),
		slog.Bool("simulate", cfg.LCD.Simulate),
		slog.Bool("service", service),
	)
	return nil
}

// Start opens the display and starts every component.
func (p *Program) Start() error {
	if p.logger == nil {
		return errors.New("daemon: Start called before Init")
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	cfg := p.cfg

	var client *octoprint.Client
	if cfg.OctoPrint.URL != "" {
		var err error
		client, err = octoprint.NewClient(cfg.OctoPrint.URL, cfg.OctoPrint.APIKey, cfg.OctoPrint.RequestTimeout.D())
		if err != nil {
			p.cancel()
			return err
		}
		p.provider = octoprint.NewStatusCache(client, cfg.OctoPrint.StatusInterval.D())
	}

	pn, err := newPanel(p.openDisplay, p.logger.With(slog.String("component", "display")))
	if err != nil {
		p.cancel()
		return err
	}
	p.panel = pn

	sourceCtx, sourceCancel := context.WithCancel(p.ctx)
	p.sourceCancel = sourceCancel
	switch cfg.Source {
	case config.SourceSocket:
		if client == nil {
			break
		}
		socket := octoprint.NewSocket(client, p.panel, p.logger.With(slog.String("component", "socket")))
		socket.ReconnectDelay = cfg.OctoPrint.ReconnectDelay.D()
		p.goRun(sourceCtx, "socket", socket.Run)
	case config.SourceMQTT:
		sub := mqtt.NewClient(cfg.MQTT.Broker, p.panel, p.logger.With(slog.String("component", "mqtt")))
		sub.Prefix = cfg.MQTT.Prefix
		sub.Username = cfg.MQTT.Username
		sub.Password = cfg.MQTT.Password
		sub.KeepAlive = cfg.MQTT.KeepAlive.D()
		sub.ReconnectDelay = cfg.OctoPrint.ReconnectDelay.D()
		p.goRun(sourceCtx, "mqtt", sub.Run)
	}

	if cfg.Status.Listen != "" {
		p.httpServer = status.NewServer(cfg.Status.Listen, status.NewHandler(p.panel, p.panel, cfg.Status.CORSOrigins))
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.logger.Info("http:listening", slog.String("addr", cfg.Status.Listen))
			if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				p.logger.Error("http:serve-failed", slog.Any("reason", err))
			}
		}()
	}

	p.logger.Info("daemon:started")
	return nil
}

// Stop shows the farewell screen, closes the display and stops every
// component.
func (p *Program) Stop() error {
	p.logger.Info("daemon:stopping")
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if p.sourceCancel != nil {
		p.sourceCancel()
	}

	var errs []error
	if p.panel != nil {
		router := p.panel.stop()
		err := router.OnEvent(ctx, octoprint.Event{Kind: octoprint.KindShutdown, Name: octoprint.EventShutdown})
		if err != nil && !errors.Is(err, lcd.ErrClosed) {
			errs = append(errs, fmt.Errorf("shutdown display: %w", err))
		}
		select {
		case <-router.Done():
		case <-ctx.Done():
			errs = append(errs, errors.New("shutdown display: timed out"))
		}
	}

	if p.httpServer != nil {
		if err := p.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http: %w", err))
		}
	}

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	if err := errors.Join(errs...); err != nil {
		p.logger.Warn("daemon:stopped", slog.Any("reason", err))
		return err
	}
	p.logger.Info("daemon:stopped")
	return nil
}

// Router returns the current router. Nil before Start.
func (p *Program) Router() *display.Router {
	if p.panel == nil {
		return nil
	}
	r, _ := p.panel.current()
	return r
}

// Screen returns the mirror of the current display contents. Nil before
// Start.
func (p *Program) Screen() *lcd.Screen {
	if p.panel == nil {
		return nil
	}
	_, s := p.panel.current()
	return s
}

// openDisplay opens the device and starts a router drawing on it.
func (p *Program) openDisplay() (*display.Router, *lcd.Screen, error) {
	cfg := p.cfg
	dev, screen, err := OpenDevice(cfg.LCD, cfg.Display.IOTimeout.D(), p.logger.With(slog.String("component", "lcd")))
	if err != nil {
		return nil, nil, err
	}
	router, err := display.NewRouter(dev, p.provider, display.Config{
		FrameDelay:    cfg.Display.FrameDelay.D(),
		QueueSize:     cfg.Display.QueueSize,
		StatusTimeout: cfg.OctoPrint.RequestTimeout.D(),
	}, p.logger.With(slog.String("component", "display")))
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	p.goRun(p.ctx, "display", router.Run)
	return router, screen, nil
}

// Config returns the resolved configuration.
func (p *Program) Config() config.Config { return p.cfg }

func (p *Program) goRun(ctx context.Context, name string, run func(context.Context) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error(name+":stopped", slog.Any("reason", err))
		}
	}()
}

// NewLogger returns the text logger used by every component.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// OpenDevice opens the display described by cfg and returns it with the
// screen that mirrors its contents. The simulated display is its own
// mirror; a real one is wrapped with the I/O timeout and mirrored.
func OpenDevice(cfg config.LCD, ioTimeout time.Duration, logger *slog.Logger) (lcd.Device, *lcd.Screen, error) {
	if cfg.Simulate {
		sim := lcd.NewSimulated(logger)
		logger.Info("lcd:simulated")
		return sim, sim.Screen(), nil
	}
	charmap, err := lcd.ParseCharmap(cfg.Charmap)
	if err != nil {
		return nil, nil, err
	}
	hd, err := lcd.OpenHD44780(lcd.HD44780Config{
		Bus:     cfg.Bus,
		Addr:    uint16(cfg.Addr),
		Charmap: charmap,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("lcd:opened", slog.String("bus", cfg.Bus), slog.String("addr", fmt.Sprintf("%#x", hd.Addr())))
	screen := lcd.NewScreen()
	return lcd.Mirror(lcd.WithTimeout(hd, ioTimeout), screen), screen, nil
}
