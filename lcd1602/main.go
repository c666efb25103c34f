// Command lcd1602 shows OctoPrint printer status on a 16x2 HD44780 LCD
// attached over I2C.
package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/judwhite/go-svc"
	"github.com/spf13/cobra"

	"github.com/harveysanders/printerlcd/lcd1602/config"
	"github.com/harveysanders/printerlcd/lcd1602/daemon"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lcd1602",
		Short:         "OctoPrint status on a 16x2 I2C character LCD",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newDemoCmd(), newProbeCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		simulate   bool
		source     string
		listen     string
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the display service until SIGINT or SIGTERM",
		Example: "  lcd1602 run --config /etc/lcd1602.toml\n" +
			"  LCD1602_DOCKER=1 lcd1602 run --source mqtt --listen :9102",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			prg := &daemon.Program{
				ConfigPath: configPath,
				Override: func(c *config.Config) {
					if flags.Changed("simulate") {
						c.LCD.Simulate = simulate
					}
					if flags.Changed("source") {
						c.Source = source
					}
					if flags.Changed("listen") {
						c.Status.Listen = listen
					}
					if flags.Changed("log-level") {
						c.LogLevel = logLevel
					}
				},
			}
			return svc.Run(prg, syscall.SIGINT, syscall.SIGTERM)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (.toml, .yaml, .yml or .json)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "Use the simulated display instead of I2C hardware")
	cmd.Flags().StringVar(&source, "source", config.SourceSocket, "Event source: socket|mqtt|none")
	cmd.Flags().StringVar(&listen, "listen", "", "Status HTTP address, e.g. :9102 (empty disables)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lcd1602 %s (%s)\n", daemon.Version, daemon.BuildDate)
		},
	}
}
