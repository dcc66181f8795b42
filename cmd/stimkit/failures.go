package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stimkit/internal/experiment"
	"stimkit/internal/failures"
	"stimkit/internal/results"
	"stimkit/internal/stage"
)

func (a *app) failuresCommand() *cobra.Command {
	var (
		file, target, bankRoot, overwrite, marker string
		definitions                               []string
		useLedger, skipMissing                    bool
	)
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Extract the images a subject answered incorrectly",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if err := requireFlags(cmd, "file", "img-location"); err != nil {
				return err
			}
			policy, err := parseOverwrite(overwrite)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			start := time.Now()
			defer func() { a.observe(ctx, "failures", start, err) }()

			rows, err := results.Read(file)
			if err != nil {
				return err
			}
			var chain failures.Chain
			if len(definitions) > 0 {
				r, err := failures.LoadDefinitionResolver(definitions...)
				if err != nil {
					return err
				}
				chain = append(chain, r)
			}
			if useLedger {
				store, err := a.openLedger(ctx)
				if err != nil {
					return fmt.Errorf("--use-ledger: %w", err)
				}
				defer func() { _ = store.Close() }()
				chain = append(chain, failures.LedgerResolver{Ledger: store})
			}
			var resolver failures.Resolver = failures.MarkerResolver{Marker: marker}
			if len(chain) > 0 {
				resolver = chain
			}

			bank, err := a.openBank(ctx, cmd, bankRoot)
			if err != nil {
				return err
			}
			ex := failures.NewExtractor(bank, failures.Options{
				Resolver: resolver,
				Render:   a.renderOptions(policy, skipMissing),
			})
			rep, err := ex.Run(ctx, rows, target)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "%d of %d responses wrong; wrote %d images to %s (accuracy %.3f)\n",
				rep.Failures, rep.Rows, rep.Written, target, rep.Summary.Accuracy)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&file, "file", "", "results table (.csv or .xlsx)")
	f.StringVar(&target, "img-location", "", "output directory for failed images")
	f.StringVar(&bankRoot, "imagenet-path", "", "raw image bank root (overrides settings)")
	f.StringSliceVar(&definitions, "definition", nil, "experiment definition(s) used to resolve image names")
	f.BoolVar(&useLedger, "use-ledger", false, "resolve image names through the configured ledger")
	f.StringVar(&marker, "marker", experiment.DefaultMarker, "leading character of raw image identifiers")
	f.BoolVar(&skipMissing, "skip-missing", false, "skip unresolvable or missing images instead of aborting")
	f.StringVar(&overwrite, "overwrite", string(stage.OverwriteReplace), "existing target policy: refuse|replace")
	return cmd
}
