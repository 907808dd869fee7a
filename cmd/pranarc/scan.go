package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/OxideDevX/prana-rc/internal/goble"
	"github.com/OxideDevX/prana-rc/pkg/discovery"
	"github.com/OxideDevX/prana-rc/pkg/registry"
	"github.com/OxideDevX/prana-rc/pkg/session"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Prana devices",
	Long: `Scan for Prana recuperators advertising nearby and display
information about discovered devices, including friendly names,
addresses, and RSSI values. Devices advertising a different name
prefix are ignored.`,
	RunE: runScanCmd,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 5*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	tr := goble.New(logger)
	reg := registry.New(tr, session.DefaultPolicy(), logger)
	scanner := discovery.New(tr, reg, discovery.DefaultOptions(), logger)

	devices, err := scanner.Scan(ctx, scanDuration)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	switch scanFormat {
	case "json":
		return displayDevicesJSON(devices)
	default:
		return displayDevicesTable(devices)
	}
}

func displayDevicesTable(devices []registry.DeviceInfo) error {
	if len(devices) == 0 {
		fmt.Println("No Prana devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = d.BTName
		}
		lastSeen := time.Since(d.SeenAt).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s ago\n", name, d.Address, d.RSSI, lastSeen)
	}

	return w.Flush()
}

func displayDevicesJSON(devices []registry.DeviceInfo) error {
	var w io.Writer = os.Stdout
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}
