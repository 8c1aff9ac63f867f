package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/shareboard/internal/config"
	"github.com/BioHazard786/shareboard/internal/ui"
)

var flagRoomRelayURL string

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Show which room this device would join",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{RelayURL: flagRoomRelayURL})
		if err != nil {
			return err
		}
		device, err := config.DeviceID(afero.NewOsFs(), cfg.DataDir)
		if err != nil {
			return err
		}

		stop := ui.RunConnectionSpinner("Asking relay...")
		info, err := lookupRoom(cmd.Context(), cfg.RelayURL, device)
		stop()
		if err != nil {
			return err
		}

		name := info.RoomName
		if cfg.Room != "" {
			name = fmt.Sprintf("%s (network room %s)", cfg.Room, info.RoomName)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RoomTable(cfg.RelayURL, name, info.IP, device))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(roomCmd)

	roomCmd.Flags().StringVarP(&flagRoomRelayURL, "relay-url", "u", "", "Relay websocket URL")
}
