package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pcb-inspect/internal/board"
)

func newLayoutsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layouts",
		Short: "List and validate reference layouts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List layouts in the layouts directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			layouts, err := board.LoadDir(o.cfg.Layouts.Dir)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tFRONT\tBACK\tANCHOR\tDESCRIPTION")
			for _, code := range layouts.Codes() {
				l, _ := layouts.Get(code)
				anchor := "-"
				if l.Anchor != nil {
					anchor = "yes"
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", code, len(l.Components), len(l.BackComponents), anchor, l.Description)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file...]",
		Short: "Validate layout files, or the whole layouts directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				layouts, err := board.LoadDir(o.cfg.Layouts.Dir)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d layouts ok\n", o.cfg.Layouts.Dir, layouts.Len())
				return nil
			}

			var errs []error
			for _, path := range args {
				l, err := board.LoadFromFile(path)
				if err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(out, "ok   %s (%s)\n", path, l.ProductCode)
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d of %d layouts invalid: %w", len(errs), len(args), errors.Join(errs...))
			}
			return nil
		},
	})
	return cmd
}
