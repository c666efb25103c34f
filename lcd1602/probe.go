package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harveysanders/printerlcd/lcd1602/layout"
	"github.com/harveysanders/printerlcd/lcd1602/lcd"
)

func newProbeCmd() *cobra.Command {
	var (
		bus     string
		charmap string
		hello   string
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Find the LCD on the I2C bus and print a greeting",
		Example: "  lcd1602 probe\n" +
			"  lcd1602 probe --bus /dev/i2c-1 --hello \"T:205° ok\" --charmap A02",
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, err := lcd.ParseCharmap(charmap)
			if err != nil {
				return err
			}
			dev, err := lcd.OpenHD44780(lcd.HD44780Config{Bus: bus, Charmap: cm})
			if err != nil {
				return err
			}
			defer dev.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "LCD found at %#x\n", dev.Addr())

			if err := dev.Clear(); err != nil {
				return err
			}
			if err := dev.SetCursor(0, 0); err != nil {
				return err
			}
			return dev.Write(layout.Fit(0, hello))
		},
	}
	cmd.Flags().StringVar(&bus, "bus", "", "I2C bus name (empty for the first bus)")
	cmd.Flags().StringVar(&charmap, "charmap", "A00", "Character ROM: A00 or A02")
	cmd.Flags().StringVar(&hello, "hello", "Hello from Go", "Text to print on the first row")
	return cmd
}
