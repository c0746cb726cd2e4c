package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	caterva "github.com/qri-io/caterva-go"
	"github.com/qri-io/caterva-go/store"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <id>",
	Short: "Show container metadata and which chunks hold complete data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := cfg.Store()
		if err != nil {
			return err
		}
		return inspect(cmd.OutOrStdout(), s, args[0], inspectJSON)
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "print raw metadata as JSON")
}

func inspect(w io.Writer, s store.Store, id string, asJSON bool) error {
	c, err := caterva.Open(s, id, caterva.WithLogger(logger))
	if err != nil {
		return err
	}
	m := c.Meta()
	if asJSON {
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	status, err := c.Status()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "id:         %s\n", id)
	fmt.Fprintf(w, "uuid:       %s\n", m.UUID)
	fmt.Fprintf(w, "shape:      %v\n", m.Shape)
	fmt.Fprintf(w, "chunks:     %v\n", m.Chunks)
	fmt.Fprintf(w, "blocks:     %v\n", m.Blocks)
	fmt.Fprintf(w, "dtype:      %s\n", m.Dtype)
	fmt.Fprintf(w, "compressor: %s (level %d, shuffle %d)\n", m.Compressor.ID, m.Compressor.Clevel, m.Compressor.Shuffle)
	fmt.Fprintf(w, "contiguous: %t\n", m.Contiguous)
	fmt.Fprintf(w, "sealed:     %t\n", m.Sealed)
	fmt.Fprintf(w, "complete:   %d/%d chunks\n", status.Complete, status.Chunks)
	for k, v := range m.Attrs {
		fmt.Fprintf(w, "attr %s: %v\n", k, v)
	}

	if m.Stack == nil {
		return nil
	}
	st, err := caterva.OpenStack(s, id, caterva.WithLogger(logger))
	if err != nil {
		return err
	}
	slabs, err := st.SlabStatus()
	if err != nil {
		return err
	}
	members := map[int]string{}
	for _, sm := range st.Members() {
		members[sm.Index] = sm.ID
	}
	for i, done := range slabs {
		fmt.Fprintf(w, "slab %d: complete=%t member=%s\n", i, done, members[i])
	}
	return nil
}
