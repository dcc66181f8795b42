package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stimkit/internal/experiment"
	"stimkit/internal/ledger"
	"stimkit/internal/metrics"
)

func (a *app) generateCommand() *cobra.Command {
	var (
		p               experiment.Params
		namesDir        string
		targetDir       string
		allowUnshuffled bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write the experiment definition for one subject and experiment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if err := requireFlags(cmd, "subject-id", "experiment-id"); err != nil {
				return err
			}
			ctx := cmd.Context()
			start := time.Now()
			defer func() { a.observe(ctx, "generate", start, err) }()

			classes, err := experiment.LoadClassLists(namesDir, !allowUnshuffled)
			if err != nil {
				if errors.Is(err, experiment.ErrNotShuffled) {
					return fmt.Errorf("%w (run stimkit shuffle first or pass --allow-unshuffled)", err)
				}
				return err
			}
			def, short, err := experiment.Generate(classes, p, nil)
			if err != nil {
				return err
			}
			for _, s := range short {
				a.log.Warn("class has too few names", zap.String("category", s.Category),
					zap.Int("available", s.Available), zap.Int("requested", s.Requested))
			}
			path := filepath.Join(targetDir, experiment.FileName(p.ExperimentID, p.SubjectID))
			if err := experiment.WriteDefinition(path, def); err != nil {
				return err
			}
			a.metrics.Add(metrics.TrialsGenerated, def.TotalTrials)
			a.log.Info("definition written", zap.String("path", path), zap.Int("trials", def.TotalTrials))

			if err := a.recordInLedger(cmd, path, def); err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "wrote %s (%d trials)\n", path, def.TotalTrials)
			return err
		},
	}
	f := cmd.Flags()
	f.IntVar(&p.SubjectID, "subject-id", 0, "subject id (0-9)")
	f.IntVar(&p.ExperimentID, "experiment-id", 0, "experiment id; selects lines [id*n, (id+1)*n) of each list")
	f.Int64Var(&p.Seed, "seed", 42, "random seed for the trial order")
	f.IntVar(&p.TrialsPerClass, "n-images", 80, "images per class")
	f.StringVar(&namesDir, "image-name-path", "shuffled_image_names", "directory of shuffled class name lists")
	f.StringVar(&targetDir, "target-location", "basic_experiment", "directory for the definition file")
	f.BoolVar(&p.Strict, "strict", true, "fail when a class has fewer than n-images names left")
	f.BoolVar(&allowUnshuffled, "allow-unshuffled", false, "accept class lists not produced by stimkit shuffle")
	return cmd
}

func (a *app) recordInLedger(cmd *cobra.Command, path string, def experiment.Definition) error {
	if ledger.Driver(a.cfg.Ledger.Driver) == ledger.DriverNone {
		return nil
	}
	ctx := cmd.Context()
	store, err := a.openLedger(ctx)
	if err != nil {
		return fmt.Errorf("definition written to %s but ledger unavailable: %w", path, err)
	}
	defer func() { _ = store.Close() }()
	runID, err := store.RecordDefinition(ctx, path, def)
	if err != nil {
		return fmt.Errorf("definition written to %s but not recorded: %w", path, err)
	}
	a.log.Info("definition recorded", zap.String("run_id", runID))
	return nil
}
