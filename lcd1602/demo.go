package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harveysanders/printerlcd/lcd1602/config"
	"github.com/harveysanders/printerlcd/lcd1602/daemon"
	"github.com/harveysanders/printerlcd/lcd1602/display"
	"github.com/harveysanders/printerlcd/lcd1602/lcd"
	"github.com/harveysanders/printerlcd/lcd1602/octoprint"
)

// demoStatus stands in for the OctoPrint REST API during a demo.
type demoStatus struct {
	estimate float64
}

func (s demoStatus) CurrentTemperatures(context.Context) (octoprint.Temperatures, error) {
	return octoprint.Temperatures{octoprint.StatusTool: {Actual: 214.6, Target: 215}}, nil
}

func (s demoStatus) CurrentJob(context.Context) (octoprint.Job, error) {
	return octoprint.Job{File: "benchy.gcode", EstimatedPrintTime: &s.estimate}, nil
}

func newDemoCmd() *cobra.Command {
	var (
		hardware bool
		bus      string
		addr     int
		step     int
		delay    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Replay a print job on the display and print every screen",
		Long: "demo connects a printer, prints a job from 0 to 100% and shuts down,\n" +
			"drawing each screen on the simulated display (or the real one with\n" +
			"--hardware) and printing it to stdout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if step < 1 || step > 100 {
				return fmt.Errorf("--step must be between 1 and 100")
			}
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			dev, screen, err := daemon.OpenDevice(config.LCD{
				Simulate: !hardware,
				Bus:      bus,
				Addr:     addr,
			}, 2*time.Second, logger)
			if err != nil {
				return err
			}
			router, err := display.NewRouter(dev, demoStatus{estimate: 3725}, display.Config{FrameDelay: delay}, logger)
			if err != nil {
				dev.Close()
				return err
			}
			return runDemo(cmd.Context(), cmd.OutOrStdout(), router, screen, step)
		},
	}
	cmd.Flags().BoolVar(&hardware, "hardware", false, "Draw on the I2C display instead of the simulated one")
	cmd.Flags().StringVar(&bus, "bus", "", "I2C bus name (empty for the first bus)")
	cmd.Flags().IntVar(&addr, "addr", 0, "I2C address (0 probes 0x27 and 0x3F)")
	cmd.Flags().IntVar(&step, "step", 25, "Progress step in percent")
	cmd.Flags().DurationVar(&delay, "frame-delay", 100*time.Millisecond, "Pause between completion animation frames")
	return cmd
}

type demoStep struct {
	title string
	send  func() error
}

func runDemo(ctx context.Context, w io.Writer, router *display.Router, screen *lcd.Screen, step int) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go router.Run(runCtx)

	event := func(name string, payload map[string]any) func() error {
		return func() error { return router.OnEvent(ctx, octoprint.ParseEvent(name, payload)) }
	}
	progress := func(percent int) func() error {
		return func() error {
			return router.OnProgress(ctx, octoprint.Progress{Storage: "local", Path: "benchy.gcode", Percent: percent})
		}
	}

	steps := []demoStep{
		{"Connected", event(octoprint.EventConnected, map[string]any{"port": "/dev/ttyACM0"})},
		{"Operational", event(octoprint.EventPrinterStateChanged, map[string]any{"state_string": "Operational"})},
	}
	for p := 0; p < 100; p += step {
		steps = append(steps, demoStep{fmt.Sprintf("Progress %d%%", p), progress(p)})
	}
	steps = append(steps,
		demoStep{"Progress 100%", progress(100)},
		demoStep{"Cancelled", event(octoprint.EventPrinterStateChanged, map[string]any{"state_string": "PrintCancelled"})},
		demoStep{"Bed cooling", func() error {
			router.OnTemperature(octoprint.Temperatures{octoprint.SampleTool: {Actual: 42}})
			return nil
		}},
	)

	for _, s := range steps {
		if err := s.send(); err != nil {
			return fmt.Errorf("%s: %w", s.title, err)
		}
		if err := router.Sync(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.title, err)
		}
		printScreen(w, s.title, router.State(), screen.Snapshot())
	}

	if err := event(octoprint.EventShutdown, nil)(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	select {
	case <-router.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	printScreen(w, "Shutdown", router.State(), screen.Snapshot())
	return nil
}

func printScreen(w io.Writer, title string, state display.State, snap lcd.Snapshot) {
	border := "+" + strings.Repeat("-", lcd.Cols) + "+"
	light := "on"
	if !snap.Backlight {
		light = "off"
	}
	fmt.Fprintf(w, "%s [%s, backlight %s]\n%s\n", title, state, light, border)
	for _, line := range snap.Text() {
		fmt.Fprintf(w, "|%s|\n", line)
	}
	fmt.Fprintln(w, border)
}
