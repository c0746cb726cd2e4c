package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
	quiet   bool
	cfgFile string

	cfg    *Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "catingest",
	Short: "Ingest reanalysis month files into chunked caterva containers",
	Long: `catingest reads hourly reanalysis fields from zarr month datasets and
writes them to chunked, block-compressed caterva containers. Months can be
stacked along a new leading axis into a single container.

Commands:
  ingest      Write one time window to a container
  compose     Stack several months into one container
  inspect     Show container metadata and completion
  verify      Read a container back in full
  remove      Delete containers`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(os.Stderr)
		c, err := LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches for caterva-config.yaml)")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(ingestCmd, composeCmd, inspectCmd, verifyCmd, removeCmd)
}

func newLogger(out *os.File) zerolog.Logger {
	level := zerolog.InfoLevel
	switch {
	case verbose:
		level = zerolog.DebugLevel
	case quiet:
		level = zerolog.ErrorLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}
