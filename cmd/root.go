package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/shareboard/internal/config"
	"github.com/BioHazard786/shareboard/internal/logging"
	"github.com/BioHazard786/shareboard/internal/ui"
	"github.com/BioHazard786/shareboard/internal/version"
)

var (
	flagConfigFile string
	flagDataDir    string
	flagLogLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "shareboard",
	Short: "Peer-to-peer share board for devices on the same network",
	Long: `Shareboard joins a room with the other devices on your network and keeps a
shared board of text, posts and files in sync between them over WebRTC. Items
expire on their own; nothing is stored on the relay.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

// loadConfig fills the root's persistent flags into opts, loads the config
// and applies its log level.
func loadConfig(opts config.Options) (*config.Config, error) {
	opts.File = flagConfigFile
	opts.DataDir = flagDataDir
	opts.LogLevel = flagLogLevel

	cfg, err := config.Load(afero.NewOsFs(), opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.RelayPolicy == config.RelayAlways && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	if cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(logging.Level(cfg.LogLevel))
	}
	return cfg, nil
}

func logger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfigFile, "config", "c", "", "Config file (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Directory for the board snapshot, payloads and device id")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn or error")
}
