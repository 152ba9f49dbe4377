package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// set by -ldflags "-X main.version=..."
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := buildRoot(defaultEnv())
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// buildRoot creates the command tree. Running the root without a
// subcommand performs a restart.
func buildRoot(e env) *cobra.Command {
	globalFlags := &GlobalFlags{}
	restartFlags := &RestartFlags{}
	statusFlags := &StatusFlags{}

	c := command{env: e}

	root := createRootCommand(globalFlags)
	restartCmd := createRestartCommand(c, globalFlags, restartFlags)
	root.RunE = restartCmd.RunE
	root.Flags().AddFlagSet(restartCmd.Flags())

	root.AddCommand(
		restartCmd,
		createStatusCommand(c, globalFlags, statusFlags),
		createVersionCommand(e),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "venus-restart",
		Short: "Restart a supervised Venus OS service cleanly",
		Long: `venus-restart stops a daemontools/s6 supervised service, kills it if it
does not exit in time, rotates its multilog output and starts it again,
then reports how many instances are running.

Examples:
  venus-restart                              # service named after the binary's directory
  venus-restart --service dbus-mqtt-devices
  venus-restart status --service dbus-mqtt-devices
  venus-restart --config /data/conf/venus-restart.toml --json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.Service, "service", "", "service name (defaults to the executable's directory name)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	return root
}

// createRestartCommand creates the restart subcommand
func createRestartCommand(c command, g *GlobalFlags, f *RestartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Stop, rotate logs and start the service",
		Long: `Run the full restart sequence:

  1. locate the running process
  2. svc -d and wait up to timing.max_shutdown_wait for it to exit
  3. SIGKILL it on timeout; abort with exit code 1 if it survives
  4. SIGALRM the multilog rotator
  5. svc -u unless the supervisor already restarted it
  6. count the running instances

Outcomes other than the unkillable abort exit 0.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Restart(cmd.Context(), *g, *f)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the run report as JSON")
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(c command, g *GlobalFlags, f *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show how many instances of the service are running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), *g, *f)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the status report as JSON")
	return cmd
}

func createVersionCommand(e env) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(e.stdout, "venus-restart", version)
			return err
		},
	}
}
