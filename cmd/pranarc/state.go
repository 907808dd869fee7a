package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/OxideDevX/prana-rc/pkg/session"
	"github.com/OxideDevX/prana-rc/pkg/wire"
)

// stateCmd represents the state command
var stateCmd = &cobra.Command{
	Use:   "state <address>",
	Short: "Read the current state of a device",
	Long: `Connects to the given Prana device, reads its current state, and
prints it. The address is the BLE address reported by scan.`,
	Args: cobra.ExactArgs(1),
	RunE: runState,
}

var stateFormat string

func init() {
	stateCmd.Flags().StringVarP(&stateFormat, "format", "f", "table", "Output format (table, json)")
}

func runState(cmd *cobra.Command, args []string) error {
	if stateFormat != "table" && stateFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", stateFormat)
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	st, err := withSession(cmd.Context(), args[0], logger, func(ctx context.Context, s *session.Session) (*session.DeviceState, error) {
		return s.State(ctx, true)
	})
	if err != nil {
		return err
	}

	if stateFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(st)
	}
	return displayState(args[0], st)
}

var (
	onLabel  = color.New(color.FgGreen).SprintFunc()
	offLabel = color.New(color.FgRed).SprintFunc()
)

func onOff(v bool) string {
	if v {
		return onLabel("on")
	}
	return offLabel("off")
}

func displayState(addr string, st *session.DeviceState) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Device\t%s\n", addr)
	fmt.Fprintf(w, "Power\t%s\n", onOff(st.IsOn))
	fmt.Fprintf(w, "Speed\t%d\n", st.Speed)
	fmt.Fprintf(w, "Input fan\t%s (speed %d)\n", onOff(st.InputFanOn), st.SpeedIn)
	fmt.Fprintf(w, "Output fan\t%s (speed %d)\n", onOff(st.OutputFanOn), st.SpeedOut)
	fmt.Fprintf(w, "Mini heating\t%s\n", onOff(st.MiniHeating))
	fmt.Fprintf(w, "Night mode\t%s\n", onOff(st.NightMode))
	fmt.Fprintf(w, "Auto mode\t%s\n", onOff(st.AutoMode))
	fmt.Fprintf(w, "Winter mode\t%s\n", onOff(st.WinterMode))
	fmt.Fprintf(w, "Flows locked\t%s\n", onOff(st.FlowsLocked))
	if st.Sensors != nil {
		displaySensors(w, st.Sensors)
	}
	fmt.Fprintf(w, "Updated\t%s\n", st.LastUpdated.Format("15:04:05"))
	return w.Flush()
}

func displaySensors(w *tabwriter.Writer, s *wire.SensorReadings) {
	fmt.Fprintf(w, "Temperature in\t%.1f C\n", s.TemperatureIn)
	fmt.Fprintf(w, "Temperature out\t%.1f C\n", s.TemperatureOut)
	fmt.Fprintf(w, "Humidity\t%d%%\n", s.Humidity)
	fmt.Fprintf(w, "CO2\t%d ppm\n", s.CO2)
	fmt.Fprintf(w, "VOC\t%d ppb\n", s.VOC)
}
