package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qri-io/caterva-go/ingest"
)

var (
	ingestVar   string
	ingestYear  int
	ingestMonth int
	ingestStart string
	ingestEnd   string
	ingestDest  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Write one time window of a variable to a container",
	Long: `Fetch a time window from a month dataset and write it to a new sealed
container. An existing sealed container at the destination is left alone.
An unsealed container at the destination, such as one left by an
interrupted run, is deleted together with every key under it and rewritten.

Examples:
  # October 2015 sea level pressure, up to the 30th
  catingest ingest --var air --year 2015 --month 10 --end "2015-10-30 23:59" --dest air1.cat`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestVar, "var", "", "variable short name")
	ingestCmd.Flags().IntVar(&ingestYear, "year", 2015, "year of the month dataset")
	ingestCmd.Flags().IntVar(&ingestMonth, "month", 10, "month of the month dataset")
	ingestCmd.Flags().StringVar(&ingestStart, "start", "", "window start (default first of the month)")
	ingestCmd.Flags().StringVar(&ingestEnd, "end", "", "window end, inclusive (default last minute of the month)")
	ingestCmd.Flags().StringVar(&ingestDest, "dest", "", "destination container id")
	ingestCmd.MarkFlagRequired("var")
	ingestCmd.MarkFlagRequired("dest")
}

// monthWindow defaults missing window bounds to the whole month
func monthWindow(year, month int, start, end string) (ingest.TimeWindow, error) {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	if start == "" {
		start = first.Format("2006-01-02 15:04")
	}
	if end == "" {
		end = first.AddDate(0, 1, 0).Add(-time.Minute).Format("2006-01-02 15:04")
	}
	return ingest.ParseWindow(start, end)
}

func runIngest(cmd *cobra.Command) error {
	v, err := ingest.LookupVariable(ingestVar)
	if err != nil {
		return err
	}
	w, err := monthWindow(ingestYear, ingestMonth, ingestStart, ingestEnd)
	if err != nil {
		return err
	}
	req := ingest.Request{Variable: v, Year: ingestYear, Month: ingestMonth, Window: w}
	if err := req.Validate(); err != nil {
		return err
	}

	d, _, err := cfg.Driver(logger)
	if err != nil {
		return err
	}
	res, err := d.Ingest(cmd.Context(), req, ingestDest)
	if err != nil {
		return err
	}
	printResult(cmd, res)
	return nil
}

func printResult(cmd *cobra.Command, res ingest.Result) {
	if quiet {
		return
	}
	if res.Skipped {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: already exists, skipped\n", res.ID)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: shape %v written in %s\n", res.ID, res.Shape, res.Took.Round(time.Millisecond))
}
