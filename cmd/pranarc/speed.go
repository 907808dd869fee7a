package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/OxideDevX/prana-rc/pkg/session"
)

// speedCmd represents the speed command
var speedCmd = &cobra.Command{
	Use:   "speed <address> <level>",
	Short: "Set the fan speed of a device",
	Long: `Connects to the given Prana device and steps its fan speed to the
requested level (1-10). The firmware only understands relative speed
changes, so the gateway issues speed-up or speed-down presses until
the reported speed matches.`,
	Args: cobra.ExactArgs(2),
	RunE: runSpeed,
}

func runSpeed(cmd *cobra.Command, args []string) error {
	target, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid speed '%s': %w", args[1], err)
	}
	if target < 1 || target > session.MaxSpeed {
		return fmt.Errorf("invalid speed %d: must be 1..%d", target, session.MaxSpeed)
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	st, err := withSession(cmd.Context(), args[0], logger, func(ctx context.Context, s *session.Session) (*session.DeviceState, error) {
		return s.SetSpeed(ctx, target)
	})
	if err != nil {
		return err
	}

	fmt.Printf("Speed set to %d\n", st.Speed)
	return displayState(args[0], st)
}
