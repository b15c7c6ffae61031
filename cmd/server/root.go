package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "meetsfu",
	Short: "Selective forwarding unit for small browser meetings",
	Long: `meetsfu relays WebRTC audio and video between browsers joined to the
same meeting. Peers signal over a WebSocket; media is forwarded by the
server without transcoding. Meeting links stay joinable for 24 hours.`,
	Version: version,
}

func init() {
	rootCmd.AddCommand(serveCmd, linkCmd)
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("meetsfu failed")
		os.Exit(1)
	}
}

// setupLogging switches the global logger to JSON outside debug mode.
func setupLogging(mode, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if mode == "debug" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func init() {
	// Human-friendly output until the config says otherwise.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
