package cmd

import (
	"github.com/spf13/cobra"

	"github.com/BioHazard786/shareboard/internal/config"
	"github.com/BioHazard786/shareboard/internal/relay"
	"github.com/BioHazard786/shareboard/internal/ui"
)

var (
	flagRelayListen string
	flagRelaySecret string
	flagRelayDev    bool
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the signaling relay",
	Long: `Run the relay that groups devices into rooms and forwards their WebRTC
signals. Devices behind the same public address share a room; --dev puts every
client in one room for local testing.

Examples:
  shareboard relay
  shareboard relay --listen :9000 --secret "$SHAREBOARD_SECRET"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{
			ListenAddr: flagRelayListen,
			Secret:     flagRelaySecret,
			Dev:        flagRelayDev,
		})
		if err != nil {
			return err
		}
		if cfg.Secret == config.DefaultSecret && !cfg.Dev {
			ui.PrintWarning("Using the built-in secret; set SHAREBOARD_SECRET or --secret")
		}

		srv := relay.NewServer(relay.Options{
			Secret: cfg.Secret,
			Dev:    cfg.Dev,
			Logger: logger("relay"),
		})
		return srv.ListenAndServe(cmd.Context(), cfg.ListenAddr)
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVarP(&flagRelayListen, "listen", "l", "", "Address to listen on")
	relayCmd.Flags().StringVar(&flagRelaySecret, "secret", "", "Secret for signing device ids")
	relayCmd.Flags().BoolVar(&flagRelayDev, "dev", false, "Put every client in the same room")
}
