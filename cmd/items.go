package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/shareboard/internal/board"
	"github.com/BioHazard786/shareboard/internal/config"
	"github.com/BioHazard786/shareboard/internal/ui"
)

var flagItemsAll bool

var itemsCmd = &cobra.Command{
	Use:     "items",
	Aliases: []string{"ls"},
	Short:   "List the board saved by the last session",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{})
		if err != nil {
			return err
		}
		fs := afero.NewOsFs()
		device, err := config.DeviceID(fs, cfg.DataDir)
		if err != nil {
			return err
		}

		items, err := savedItems(fs, cfg.SnapshotPath(), time.Now(), flagItemsAll)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.ItemsTable(items, device, time.Now()))
		return nil
	},
}

// savedItems reads the snapshot at path, newest first. Expired items are
// left out unless all is set.
func savedItems(fs afero.Fs, path string, now time.Time, all bool) ([]board.Item, error) {
	data, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	items, err := board.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	out := items[:0]
	for _, item := range items {
		if all || !item.Expired(now.UnixMilli()) {
			out = append(out, item)
		}
	}
	board.SortNewestFirst(out)
	return out, nil
}

func init() {
	rootCmd.AddCommand(itemsCmd)

	itemsCmd.Flags().BoolVarP(&flagItemsAll, "all", "a", false, "Include expired items")
}
