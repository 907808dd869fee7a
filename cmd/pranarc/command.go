package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OxideDevX/prana-rc/pkg/session"
	"github.com/OxideDevX/prana-rc/pkg/wire"
)

// commandCmd represents the command command
var commandCmd = &cobra.Command{
	Use:   "command <address> <name>",
	Short: "Send a control command to a device",
	Long: `Connects to the given Prana device and sends a single control
command, then prints the state the device reports back.

Run with no arguments to list the available command names.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runCommand,
}

func init() {}

func listCommandNames() string {
	names := wire.ControlOpNames()
	sort.Strings(names)
	return strings.Join(names, "\n  ")
}

func runCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Printf("Available commands:\n  %s\n", listCommandNames())
		return nil
	}
	if len(args) != 2 {
		return fmt.Errorf("expected <address> <name>, got %d argument(s)", len(args))
	}

	op, ok := wire.ControlOpByName(args[1])
	if !ok {
		return fmt.Errorf("unknown command '%s', available:\n  %s", args[1], listCommandNames())
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	st, err := withSession(cmd.Context(), args[0], logger, func(ctx context.Context, s *session.Session) (*session.DeviceState, error) {
		return s.Execute(ctx, op)
	})
	if err != nil {
		return err
	}

	fmt.Printf("Command '%s' sent\n", args[1])
	return displayState(args[0], st)
}
