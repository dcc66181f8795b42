package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stimkit/internal/ledger"
)

func (a *app) ledgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect definitions recorded in the experiment ledger",
		Args:  usageArgs(cobra.NoArgs),
		RunE:  missingSubcommand,
	}
	cmd.AddCommand(a.ledgerListCommand(), a.ledgerShowCommand())
	return cmd
}

func (a *app) ledgerListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded definitions by subject and experiment",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			recs, err := store.Definitions(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tSUBJECT\tEXPERIMENT\tSEED\tTRIALS\tRECORDED\tPATH")
			for _, r := range recs {
				d := r.Definition
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\t%s\n", r.RunID, d.SubjectID, d.ExperimentID,
					d.RandomSeed, d.TotalTrials, r.RecordedAt.Format("2006-01-02T15:04:05Z07:00"), r.Path)
			}
			return tw.Flush()
		},
	}
}

func (a *app) ledgerShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print a recorded definition in definition-file format",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			rec, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(rec.Definition, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "%s\n", b)
			return err
		},
	}
}

// openLedger opens the configured ledger; a disabled ledger is reported with
// the setting that enables it.
func (a *app) openLedger(ctx context.Context) (*ledger.Store, error) {
	store, err := ledger.Open(ctx, ledger.Config{Driver: ledger.Driver(a.cfg.Ledger.Driver), DSN: a.cfg.Ledger.DSN})
	if errors.Is(err, ledger.ErrDisabled) {
		return nil, fmt.Errorf("%w (set STIMKIT_LEDGER_DRIVER or ledger.driver)", err)
	}
	return store, err
}

// usageArgs reports positional argument errors as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// missingSubcommand is the RunE of command groups, so that a group invoked
// on its own or with an unknown subcommand exits with a usage error.
func missingSubcommand(cmd *cobra.Command, _ []string) error {
	names := make([]string, 0, len(cmd.Commands()))
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	return usageError{fmt.Errorf("%s: expected a subcommand (%s)", cmd.CommandPath(), strings.Join(names, ", "))}
}
