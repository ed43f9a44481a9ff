// cmd/piiredact/plan.go
package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the redaction projection derived from the quarantine table",
	Long: `Print the redaction projection the next batch would be redacted with: one
expression per column, substituted columns showing the action applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), cfg, logger, prometheus.NewRegistry(), true)
		if err != nil {
			return err
		}
		defer a.Close()

		projection, err := a.pipeline.Projection(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "substituted: %s\n", strings.Join(projection.SubstitutedColumns(), ", "))
		fmt.Fprintf(out, "SELECT %s\n", strings.Join(projection.Expressions(), ", "))
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the expectations compiled from the rule catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), cfg, logger, prometheus.NewRegistry(), true)
		if err != nil {
			return err
		}
		defer a.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCOLUMN\tCONSTRAINT\tACTION")
		for _, exp := range a.pipeline.Expectations() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", exp.ConstraintName, exp.Column, exp.ConstraintExpr, exp.ActionExpr)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(planCmd, rulesCmd)
}
