package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/knoguchi/paperqa/internal/app"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check vector search and reranker availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			h := a.Pipeline.HealthCheck(ctx)
			if err := printJSON(cmd.OutOrStdout(), h); err != nil {
				return err
			}
			if !h.Overall {
				return fmt.Errorf("pipeline unhealthy")
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
