package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stimkit/internal/metrics"
	"stimkit/internal/shuffle"
)

func (a *app) shuffleCommand() *cobra.Command {
	var (
		source, target, overwrite string
		seed                      int64
	)
	cmd := &cobra.Command{
		Use:   "shuffle",
		Short: "Shuffle the lines of every class name list into a new directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if err := requireFlags(cmd, "source", "target"); err != nil {
				return err
			}
			policy, err := parseOverwrite(overwrite)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("seed") {
				seed = time.Now().UnixNano()
			}
			ctx := cmd.Context()
			start := time.Now()
			defer func() { a.observe(ctx, "shuffle", start, err) }()

			a.log.Info("shuffling class lists", zap.String("source", source), zap.String("target", target), zap.Int64("seed", seed))
			sum, err := shuffle.Shuffle(ctx, source, target, rand.New(rand.NewSource(seed)),
				shuffle.Options{Overwrite: policy, Logger: a.log})
			if err != nil {
				return err
			}
			a.metrics.Add(metrics.ListsShuffled, sum.Files)
			_, err = fmt.Fprintf(a.stdout, "shuffled %d files (%d lines) into %s (seed %d)\n", sum.Files, sum.Lines, target, seed)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVarP(&source, "source", "s", "", "directory of class name lists")
	f.StringVarP(&target, "target", "t", "", "output directory (must not exist)")
	f.Int64Var(&seed, "seed", 0, "random seed (default: time based, logged)")
	f.StringVar(&overwrite, "overwrite", "refuse", "existing target policy: refuse|replace")
	return cmd
}
