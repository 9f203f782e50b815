package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"sqlgate/internal/config"
	"sqlgate/internal/domain/policy"
	"sqlgate/internal/domain/query"
)

func newClassifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify SQL",
		Short: "Classify a statement and show the verdict for a role without executing it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			role, err := policy.ParseRole(opts.role)
			if err != nil {
				return err
			}
			return classify(cmd.OutOrStdout(), cfg, role, strings.Join(args, " "))
		},
	}
}

func classify(w io.Writer, cfg config.Config, role policy.Role, sql string) error {
	rules, err := policy.CompileRules(cfg.Policy.Rules)
	if err != nil {
		return err
	}

	stmt := query.NewClassifier(query.NewDenyList(cfg.Policy.MetadataDenyList)).Classify(sql)
	verdict := policy.NewEngine(rules).Evaluate(role, stmt)

	fmt.Fprintf(w, "kind:     %s\n", stmt.Kind)
	if len(stmt.Objects) > 0 {
		fmt.Fprintf(w, "objects:  %s\n", strings.Join(stmt.Objects, ", "))
	}
	if stmt.ReferencesMetadata() {
		fmt.Fprintf(w, "metadata: %s\n", strings.Join(stmt.MetadataObjects, ", "))
	}
	if stmt.Batch {
		fmt.Fprintln(w, "batch:    true")
	}
	if stmt.ParseError != "" {
		fmt.Fprintf(w, "error:    %s\n", stmt.ParseError)
	}
	fmt.Fprintf(w, "verdict:  %s\n", verdict)
	if verdict.Rule != "" {
		fmt.Fprintf(w, "rule:     %s\n", verdict.Rule)
	}

	if verdict.Allowed() {
		sanitized := query.NewSanitizer(cfg.Policy.DefaultRowLimit, cfg.Policy.MaxRowLimit).Apply(stmt)
		fmt.Fprintf(w, "sql:      %s\n", sanitized.SQL)
	}
	return nil
}
