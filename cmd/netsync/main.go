package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/netsync/internal/config"
	neterrors "github.com/vango-dev/netsync/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌┐┌┌─┐┌┬┐┌─┐┬ ┬┌┐┌┌─┐
  │││├┤  │ └─┐└┬┘││││
  ┘└┘└─┘ ┴ └─┘ ┴ ┘└┘└─┘
`

// globals holds the flags every command accepts.
type globals struct {
	configPath  string
	logLevel    string
	logFile     string
	errorFormat string
}

func main() {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:   "netsync",
		Short: "Real-time game state synchronization over UDP",
		Long: `netsync runs servers and headless clients of a snapshot-based game
network layer.

  • Sequenced UDP channel with one reliable message in flight
  • Delta-compressed entity snapshots against acknowledged frames
  • Client-side prediction with reconciliation and error smoothing
  • Interpolation, extrapolation and adaptive jitter buffering
  • Demo recording and archival to S3`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file (default: nearest netsync.json)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&g.logFile, "log-file", "", "Also write logs to this file")
	rootCmd.PersistentFlags().StringVar(&g.errorFormat, "error-format", "pretty", "Error output: pretty, compact or json")

	rootCmd.AddCommand(
		serveCmd(g),
		botCmd(g),
		demoCmd(g),
		configCmd(g),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		reportError(os.Stderr, err, g.errorFormat)
		os.Exit(1)
	}
}

// reportError writes err to w in the --error-format style. Errors without
// a code are printed by their message alone.
func reportError(w io.Writer, err error, format string) {
	var ne *neterrors.NetError
	coded := errors.As(err, &ne)
	switch format {
	case "json":
		if coded {
			fmt.Fprintln(w, ne.FormatJSON())
		} else {
			fmt.Fprintf(w, "{\"message\":%q}\n", err.Error())
		}
	case "compact":
		if coded {
			fmt.Fprintln(w, ne.FormatCompact())
		} else {
			fmt.Fprintln(w, err.Error())
		}
	default:
		neterrors.Fprint(w, err)
	}
}

// loadConfig reads the file named by --config, or the nearest netsync.json.
// Without either the defaults are used.
func loadConfig(g *globals) (*config.Config, error) {
	if g.configPath != "" {
		return config.LoadFile(g.configPath)
	}
	cfg, err := config.LoadFromWorkingDir()
	if neterrors.HasCode(err, "E082") {
		return config.New(), nil
	}
	return cfg, err
}

// printBanner prints the netsync ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
