package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) bankCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bank",
		Short: "Inspect the raw image bank",
		Args:  usageArgs(cobra.NoArgs),
		RunE:  missingSubcommand,
	}
	cmd.AddCommand(a.bankListCommand())
	return cmd
}

func (a *app) bankListCommand() *cobra.Command {
	var prefix, bankRoot string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List raw images under a key prefix (e.g. a synset directory)",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			bank, err := a.openBank(cmd.Context(), cmd, bankRoot)
			if err != nil {
				return err
			}
			infos, err := bank.List(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			for _, info := range infos {
				if _, err := fmt.Fprintf(a.stdout, "%s\t%d\n", info.Key, info.Size); err != nil {
					return err
				}
			}
			a.log.Debug("bank listed", zap.String("prefix", prefix), zap.Int("objects", len(infos)))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&prefix, "prefix", "", "key prefix, e.g. n01440764/")
	f.StringVar(&bankRoot, "imagenet-path", "", "raw image bank root (overrides settings)")
	return cmd
}
