package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knoguchi/paperqa/internal/app"
	"github.com/knoguchi/paperqa/internal/pipeline"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question with cited sources",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := queryOptions(cmd)
		if err != nil {
			return err
		}
		question := strings.Join(args, " ")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			resp, err := a.Pipeline.Query(ctx, question, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		})
	},
}

// queryOptions reads --k and --rerank. --rerank is only applied when set.
func queryOptions(cmd *cobra.Command) (pipeline.Options, error) {
	var opts pipeline.Options
	k, err := cmd.Flags().GetInt("k")
	if err != nil {
		return opts, err
	}
	opts.K = k
	if cmd.Flags().Changed("rerank") {
		rerank, err := cmd.Flags().GetBool("rerank")
		if err != nil {
			return opts, err
		}
		opts.WithReranking = &rerank
	}
	return opts, nil
}

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().Int("k", 0, "number of sources to return (default FINAL_K)")
	cmd.Flags().Bool("rerank", true, "rerank candidates (default RERANK_ENABLED)")
}

func init() {
	addQueryFlags(askCmd)
	rootCmd.AddCommand(askCmd)
}
