// Command sqlgate is the local front end of the governance layer: offline
// classification, one-shot questions and an interactive session.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sqlgate/internal/config"
)

type rootOptions struct {
	configPath string
	role       string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "sqlgate:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "sqlgate",
		Short:         "Role-aware governance for model-generated SQL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&opts.role, "role", "user", "caller role: user or admin")

	root.AddCommand(newClassifyCmd(opts), newAskCmd(opts), newReplCmd(opts))
	return root
}

func (o *rootOptions) load() (config.Config, error) {
	if o.configPath != "" {
		return config.LoadFile(o.configPath)
	}
	return config.Load()
}
