package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/phsym/console-slog"
	"github.com/spf13/cobra"

	"github.com/vango-dev/herald/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	debug     bool
	configDir string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "herald",
		Short: "Prioritized, keyed change notification",
		Long: `Herald hosts named notification controllers.

Listeners run in priority order and can subscribe to specific keys.
The server exposes controllers over a JSON API, a websocket stream
and Prometheus metrics, and can journal every notification to S3.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			InitLogger(debug)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configDir, "dir", "C", ".", "Directory containing herald.yaml")

	rootCmd.AddCommand(
		serveCmd(),
		benchCmd(),
		initCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

// InitLogger installs a console handler as the default slog logger.
func InitLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{
		Level: level,
	})))
}

func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}
