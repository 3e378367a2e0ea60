package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pcb-inspect/internal/server"
)

func newServeCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inspection HTTP server",
		Long: `Start an HTTP server that runs the full inspection pipeline.

Endpoints:
  POST /api/inspect        - multipart front, optional back and product_code
  POST /api/verify         - verify a detection list against a layout
  GET  /api/layouts[/code] - list or fetch reference layouts
  GET  /api/ping           - liveness
  GET  /metrics            - Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log := o.cfg, o.log
			defer func() { _ = log.Sync() }()

			svc, cl, err := buildService(cfg, log)
			if err != nil {
				return err
			}
			defer cl.close(log)

			srv := server.New(svc, server.Options{
				Addr:            cfg.Server.Addr(),
				MaxUploadMB:     cfg.Server.MaxUploadMB,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			}, log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info("starting server",
				zap.String("addr", cfg.Server.Addr()),
				zap.Strings("strategies", cfg.Alignment.Strategies),
				zap.String("ocr", cfg.OCR.Engine),
				zap.String("store", cfg.Store.Driver))
			return srv.Run(ctx)
		},
	}

	f := cmd.Flags()
	f.String("host", "0.0.0.0", "listen address")
	f.Int("port", 8080, "listen port")
	f.Int("max-upload-mb", 32, "maximum multipart request size in MB")
	f.String("detector-url", "", "component detection service URL")
	f.String("actuation-url", "", "line controller URL (empty logs decisions only)")

	_ = o.v.BindPFlag("server.host", f.Lookup("host"))
	_ = o.v.BindPFlag("server.port", f.Lookup("port"))
	_ = o.v.BindPFlag("server.max_upload_mb", f.Lookup("max-upload-mb"))
	_ = o.v.BindPFlag("detector.url", f.Lookup("detector-url"))
	_ = o.v.BindPFlag("actuation.url", f.Lookup("actuation-url"))
	return cmd
}
