// Command repodeck runs the working-copy companion server, the local git
// backend and a few operator tools.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Strob0t/repodeck/internal/config"
	"github.com/Strob0t/repodeck/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "repodeck",
		Short:         "Working-copy companion for a coding assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", config.DefaultConfigFile, "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCommand(flags),
		newBackendCommand(flags),
		newAttachCommand(),
		newMigrateCommand(flags),
		newVersionCommand(),
	)
	return cmd
}

// loadConfig resolves the configuration for cmd and installs the default
// logger. The returned closer flushes an async log handler.
func loadConfig(cmd *cobra.Command, flags *rootFlags, extra config.CLIFlags) (*config.Config, logger.Closer, error) {
	cli := extra
	cli.ConfigPath = &flags.configPath
	if cmd.Flags().Changed("log-level") {
		cli.LogLevel = &flags.logLevel
	}

	cfg, path, err := config.LoadWithCLI(cli)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	log, closer := logger.New(cfg.Logging)
	slog.SetDefault(log)
	slog.Info("config loaded",
		"file", path,
		"port", cfg.Server.Port,
		"backend", cfg.Backend.Kind,
		"log_level", cfg.Logging.Level,
	)
	return cfg, closer, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
