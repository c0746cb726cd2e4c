package main

import (
	"fmt"

	"github.com/spf13/cobra"

	caterva "github.com/qri-io/caterva-go"
)

var removeCmd = &cobra.Command{
	Use:   "remove <id>...",
	Short: "Delete containers. Missing ids are ignored",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := cfg.Store()
		if err != nil {
			return err
		}
		for _, id := range args {
			if err := caterva.Remove(s, id); err != nil {
				return fmt.Errorf("removing %s: %w", id, err)
			}
			logger.Info().Str("id", id).Msg("removed")
		}
		return nil
	},
}
