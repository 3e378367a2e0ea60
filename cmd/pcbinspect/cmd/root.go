// Package cmd implements the pcbinspect command tree.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"pcb-inspect/internal/board"
	"pcb-inspect/internal/config"
	"pcb-inspect/internal/logger"
	"pcb-inspect/internal/version"
)

// options is shared by every subcommand of one root command.
type options struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *zap.Logger
}

// NewRootCommand builds the command tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	o := &options{v: viper.New()}

	root := &cobra.Command{
		Use:   "pcbinspect",
		Short: "PCB alignment and component verification",
		Long: `pcbinspect aligns camera frames of printed circuit boards to a reference
layout, checks the detected components against it and sorts each board into
normal, missing, position_error or discard.

Examples:
  pcbinspect serve --port 8080
  pcbinspect align frame.png --layout MBAB --out warped.png
  pcbinspect verify layouts/mbab.yaml detections.json
  pcbinspect layouts list`,
		Version:           version.String(),
		SilenceUsage:      true,
		PersistentPreRunE: o.load,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.cfgFile, "config", "", "config file (default is pcbinspect.yaml in ., $HOME, /etc/pcbinspect)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("layouts-dir", "layouts", "directory containing reference layouts")

	_ = o.v.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = o.v.BindPFlag("layouts.dir", pf.Lookup("layouts-dir"))

	root.AddCommand(
		newServeCmd(o),
		newAlignCmd(o),
		newVerifyCmd(o),
		newLayoutsCmd(o),
		newRecordsCmd(o),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// load reads configuration and installs the logger. The server logs JSON,
// everything else logs to the console.
func (o *options) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewLoader(o.v).Load(o.cfgFile)
	if err != nil {
		return err
	}
	o.cfg = cfg

	initLog := logger.InitDevelopment
	if cmd.Name() == "serve" {
		initLog = logger.InitProduction
	}
	if err := initLog(cfg.LogLevel); err != nil {
		return err
	}
	o.log = logger.Log()
	return nil
}

// layout resolves arg as a layout file path, or as a product code in the
// configured layouts directory.
func (o *options) layout(arg string) (*board.ReferenceLayout, error) {
	if fi, err := os.Stat(arg); err == nil && !fi.IsDir() {
		return board.LoadFromFile(arg)
	}
	layouts, err := board.LoadDir(o.cfg.Layouts.Dir)
	if err != nil {
		return nil, err
	}
	return layouts.Get(arg)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
