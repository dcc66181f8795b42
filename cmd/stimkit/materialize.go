package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stimkit/internal/blob"
	"stimkit/internal/experiment"
	"stimkit/internal/imaging"
	"stimkit/internal/materialize"
	"stimkit/internal/stage"
)

func (a *app) materializeCommand() *cobra.Command {
	var (
		defPath, target, bankRoot, overwrite string
		skipMissing                          bool
	)
	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Render every image of an experiment definition under its experiment name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if err := requireFlags(cmd, "config", "target-location"); err != nil {
				return err
			}
			policy, err := parseOverwrite(overwrite)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			start := time.Now()
			defer func() { a.observe(ctx, "materialize", start, err) }()

			def, err := experiment.ReadDefinition(defPath)
			if err != nil {
				return err
			}
			bank, err := a.openBank(ctx, cmd, bankRoot)
			if err != nil {
				return err
			}
			rep, err := materialize.New(bank, a.renderOptions(policy, skipMissing)).Run(ctx, def, target)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "materialized %d images into %s (%d skipped)\n", rep.Written, target, rep.Skipped)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&defPath, "config", "", "experiment definition file")
	f.StringVar(&target, "target-location", "", "output directory")
	f.StringVar(&bankRoot, "imagenet-path", "", "raw image bank root (overrides settings)")
	f.BoolVar(&skipMissing, "skip-missing", false, "skip missing or unreadable raw images instead of aborting")
	f.StringVar(&overwrite, "overwrite", string(stage.OverwriteRefuse), "existing target policy: refuse|replace")
	return cmd
}

// openBank opens the configured raw image bank. --imagenet-path overrides
// the configured root (or S3 prefix).
func (a *app) openBank(ctx context.Context, cmd *cobra.Command, root string) (blob.Store, error) {
	opts := a.cfg.BankOptions()
	if cmd.Flags().Changed("imagenet-path") {
		opts.Root = root
		opts.S3.Prefix = root
	}
	return blob.Open(ctx, opts)
}

func (a *app) renderOptions(policy stage.Overwrite, skipMissing bool) materialize.Options {
	mode := materialize.ModeAbort
	if skipMissing {
		mode = materialize.ModeSkip
	}
	return materialize.Options{
		Transform: imaging.Transform{Resize: a.cfg.Transform.Resize, Crop: a.cfg.Transform.Crop},
		Mode:      mode,
		Overwrite: policy,
		Logger:    a.log,
		Metrics:   a.metrics,
	}
}

func parseOverwrite(s string) (stage.Overwrite, error) {
	p, err := stage.ParseOverwrite(s)
	if err != nil {
		return "", usageError{err}
	}
	return p, nil
}
