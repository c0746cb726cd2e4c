package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	caterva "github.com/qri-io/caterva-go"
	"github.com/qri-io/caterva-go/ingest"
)

var (
	composeVar     string
	composeWindows []string
	composeMembers []string
	composeDest    string
	composeResume  bool
)

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Stack several month windows into one container",
	Long: `Write each month window to its own member container and stack them
along a new leading axis. Without --window the October to December 2015
windows are stacked.

A failed compose leaves the finished slabs in place. Rerun with --resume to
continue from the first incomplete slab.

Examples:
  # air1.cat, air2.cat, air3.cat and air-3m.cat
  catingest compose --var air

  # explicit windows
  catingest compose --var wind \
    --window 2015,10,2015-10-01,2015-10-30T23:59 \
    --window 2015,11,2015-11-01,2015-11-30T23:59 \
    --dest wind-2m.cat`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompose(cmd)
	},
}

func init() {
	composeCmd.Flags().StringVar(&composeVar, "var", "", "variable short name")
	composeCmd.Flags().StringArrayVar(&composeWindows, "window", nil, "month window as year,month,start,end (repeatable)")
	composeCmd.Flags().StringSliceVar(&composeMembers, "members", nil, "member container ids (default <var>1.cat, <var>2.cat, ...)")
	composeCmd.Flags().StringVar(&composeDest, "dest", "", "stack container id (default <var>-<n>m.cat)")
	composeCmd.Flags().BoolVar(&composeResume, "resume", false, "continue an interrupted compose")
	composeCmd.MarkFlagRequired("var")
}

// parseMonthWindow parses "year,month,start,end"
func parseMonthWindow(v ingest.Variable, s string) (ingest.Request, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return ingest.Request{}, fmt.Errorf("window %q: expected year,month,start,end", s)
	}
	year, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return ingest.Request{}, fmt.Errorf("window %q: bad year: %w", s, err)
	}
	month, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return ingest.Request{}, fmt.Errorf("window %q: bad month: %w", s, err)
	}
	w, err := ingest.ParseWindow(strings.TrimSpace(parts[2]), strings.TrimSpace(parts[3]))
	if err != nil {
		return ingest.Request{}, fmt.Errorf("window %q: %w", s, err)
	}
	req := ingest.Request{Variable: v, Year: year, Month: month, Window: w}
	return req, req.Validate()
}

func composeRequest(v ingest.Variable, windows, members []string, dest string) (ingest.ComposeRequest, error) {
	r := ingest.ComposeRequest{Members: members, Dest: dest}
	if len(windows) == 0 {
		r.Months = ingest.DefaultMonths(v)
	}
	for _, s := range windows {
		req, err := parseMonthWindow(v, s)
		if err != nil {
			return r, err
		}
		r.Months = append(r.Months, req)
	}
	if len(r.Members) == 0 {
		r.Members = ingest.MemberIDs(v, len(r.Months))
	}
	if r.Dest == "" {
		r.Dest = ingest.StackID(v, len(r.Months))
	}
	return r, nil
}

func runCompose(cmd *cobra.Command) error {
	v, err := ingest.LookupVariable(composeVar)
	if err != nil {
		return err
	}
	r, err := composeRequest(v, composeWindows, composeMembers, composeDest)
	if err != nil {
		return err
	}

	d, _, err := cfg.Driver(logger)
	if err != nil {
		return err
	}
	var res ingest.Result
	if composeResume {
		res, err = d.Resume(cmd.Context(), r)
	} else {
		res, err = d.Compose(cmd.Context(), r)
	}
	if ce, ok := caterva.IsComposeError(err); ok {
		logger.Error().
			Str("stack", r.Dest).
			Ints("written", ce.Written).
			Int("failed", ce.Index).
			Msg("compose stopped, rerun with --resume to continue")
	}
	if err != nil {
		return err
	}
	printResult(cmd, res)
	return nil
}
