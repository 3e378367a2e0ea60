package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"pcb-inspect/internal/alignment"
	"pcb-inspect/internal/inspect"
	"pcb-inspect/pkg/geometry"
)

type alignOutput struct {
	Image      string                      `json:"image"`
	Strategy   string                      `json:"strategy"`
	Fiducials  []geometry.Point2D          `json:"fiducials"`
	Layout     string                      `json:"layout,omitempty"`
	Residual   *float64                    `json:"residual,omitempty"`
	Visibility *alignment.VisibilityReport `json:"visibility,omitempty"`
	Warped     string                      `json:"warped,omitempty"`
	Overlay    string                      `json:"overlay,omitempty"`
}

func newAlignCmd(o *options) *cobra.Command {
	var layoutArg, outPath, overlayPath string

	cmd := &cobra.Command{
		Use:   "align <image>",
		Short: "Locate fiducials and warp a frame to its layout",
		Long: `Run the fiducial strategy chain on one frame and print the result.

With --layout the frame is also checked for visibility and warped into the
layout's canonical frame; --out writes the warped image.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outPath != "" && layoutArg == "" {
				return errors.New("--out requires --layout")
			}
			log := o.log

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			frame, err := inspect.DecodeImage(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			defer frame.Close()

			chain, err := alignment.BuildChain(o.cfg.Alignment, log)
			if err != nil {
				return err
			}
			chain.OnAttempt(func(strategy string, ok bool) {
				log.Debug("strategy attempt", zap.String("strategy", strategy), zap.Bool("ok", ok))
			})

			fs, err := chain.Locate(frame)
			if err != nil {
				return fmt.Errorf("locate fiducials: %w", err)
			}
			out := alignOutput{Image: args[0], Strategy: fs.Strategy, Fiducials: fs.Slice()}

			if layoutArg != "" {
				layout, err := o.layout(layoutArg)
				if err != nil {
					return err
				}
				res, err := alignment.NewAligner(o.cfg.Alignment.Visibility, log).Align(frame, fs, layout)
				if err != nil {
					return fmt.Errorf("align to %s: %w", layout.ProductCode, err)
				}
				defer res.Close()

				out.Layout = layout.ProductCode
				out.Residual = &res.Residual
				out.Visibility = &res.Visibility
				if outPath != "" {
					if ok := gocv.IMWrite(outPath, res.Warped); !ok {
						return fmt.Errorf("write %s", outPath)
					}
					out.Warped = outPath
				}
			}

			if overlayPath != "" {
				ov := alignment.DrawOverlay(frame, fs.Slice(), nil)
				defer ov.Close()
				png, err := alignment.EncodePNG(ov)
				if err != nil {
					return err
				}
				if err := os.WriteFile(overlayPath, png, 0o644); err != nil {
					return err
				}
				out.Overlay = overlayPath
			}

			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&layoutArg, "layout", "l", "", "layout file or product code to align against")
	f.StringVarP(&outPath, "out", "o", "", "write the warped frame to this path")
	f.StringVar(&overlayPath, "overlay", "", "write a PNG with the fiducials drawn on the raw frame")
	f.StringSlice("strategy", nil, "fiducial strategies in fallback order")
	_ = o.v.BindPFlag("alignment.strategies", f.Lookup("strategy"))
	return cmd
}
