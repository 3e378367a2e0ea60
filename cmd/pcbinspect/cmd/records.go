package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pcb-inspect/internal/decision"
	"pcb-inspect/internal/store"
)

func (o *options) openStore() (*store.Store, error) {
	if !o.cfg.Store.Enabled() {
		return nil, errors.New("store is disabled (store.driver = none)")
	}
	return store.Open(o.cfg.Store.Driver, o.cfg.Store.DSN)
}

func newRecordsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Query stored inspection records",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent inspections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := o.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			recs, err := st.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIME\tPRODUCT\tSERIAL\tDECISION\tSTRATEGY\tSLOT\tTOTAL")
			for _, r := range recs {
				slot := "-"
				if r.Box >= 0 {
					slot = fmt.Sprintf("%d/%d", r.Box, r.Slot)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.CreatedAt.Format(time.DateTime), r.ProductCode, r.Serial,
					r.Decision, r.Strategy, slot, r.Total.Round(time.Millisecond))
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "number of records")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			rec, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count stored inspections per decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := o.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			counts, err := st.CountByDecision(cmd.Context())
			if err != nil {
				return err
			}
			total := 0
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, d := range []decision.Decision{decision.Normal, decision.Missing, decision.PositionError, decision.Discard} {
				fmt.Fprintf(tw, "%s\t%d\n", d, counts[d])
				total += counts[d]
			}
			fmt.Fprintf(tw, "total\t%d\n", total)
			return tw.Flush()
		},
	}

	cmd.AddCommand(list, show, stats)
	return cmd
}
