package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	caterva "github.com/qri-io/caterva-go"
	"github.com/qri-io/caterva-go/store"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <id>...",
	Short: "Read containers back in full, checking every block",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := cfg.Store()
		if err != nil {
			return err
		}
		failed := 0
		for _, id := range args {
			if err := verify(cmd.Context(), cmd.OutOrStdout(), s, id); err != nil {
				logger.Error().Err(err).Str("id", id).Msg("verify failed")
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d containers failed verification", failed, len(args))
		}
		return nil
	},
}

func verify(ctx context.Context, w io.Writer, s store.Store, id string) error {
	c, err := caterva.Open(s, id, caterva.WithLogger(logger), caterva.WithWorkers(cfg.Workers))
	if err != nil {
		return err
	}
	arr, err := c.ReadFull(ctx)
	if errors.Is(err, caterva.ErrIncompleteData) {
		status, serr := c.Status()
		if serr == nil {
			fmt.Fprintf(w, "%s: incomplete, %d/%d chunks written\n", id, status.Complete, status.Chunks)
		}
		return err
	}
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(w, "%s: ok, %d items of %s\n", id, arr.Len(), arr.Dtype)
	}
	return nil
}
