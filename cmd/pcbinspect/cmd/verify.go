package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pcb-inspect/internal/board"
	"pcb-inspect/internal/decision"
	"pcb-inspect/internal/verify"
)

type verifyOutput struct {
	ProductCode  string           `json:"product_code"`
	Side         board.Side       `json:"side"`
	Verification *verify.Result   `json:"verification"`
	Outcome      decision.Outcome `json:"outcome"`
}

func newVerifyCmd(o *options) *cobra.Command {
	var sideArg string

	cmd := &cobra.Command{
		Use:   "verify <layout> <detections.json>",
		Short: "Verify a detection list against a reference layout",
		Long: `Match detections, given in canonical layout coordinates, against one side of
a layout and print the verification and the resulting decision.

<layout> is a layout file or a product code in the layouts directory.
<detections.json> holds either a list of detections or {"detections": [...]}.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			side, err := board.ParseSide(sideArg)
			if err != nil {
				return err
			}
			layout, err := o.layout(args[0])
			if err != nil {
				return err
			}
			if !layout.HasSide(side) {
				return fmt.Errorf("layout %s has no %s components", layout.ProductCode, side)
			}
			dets, err := readDetections(args[1])
			if err != nil {
				return err
			}

			v := verify.NewVerifier(o.cfg.Verify.PositionThreshold, o.cfg.Verify.ConfidenceThreshold, o.log)
			res := v.Verify(layout.ComponentsFor(side), dets)
			return writeJSON(cmd.OutOrStdout(), verifyOutput{
				ProductCode:  layout.ProductCode,
				Side:         side,
				Verification: res,
				Outcome:      o.cfg.Decision.DecideResult(res.Summary),
			})
		},
	}
	cmd.Flags().StringVarP(&sideArg, "side", "s", "front", "board side (front, back)")
	return cmd
}

func readDetections(path string) ([]verify.Detection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []verify.Detection
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Detections []verify.Detection `json:"detections"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wrapped.Detections, nil
}
