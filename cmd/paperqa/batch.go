package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knoguchi/paperqa/internal/app"
)

var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Answer up to 10 questions concurrently, one per line",
	Long: `batch reads questions one per line from file, or from stdin when no file
is given. Blank lines and lines starting with # are skipped.

total_time_ms in the output is the sum of each query's own total time, not
the wall-clock time of the batch; wall_time_ms carries the latter.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := queryOptions(cmd)
		if err != nil {
			return err
		}

		in := cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()
			in = f
		}
		questions, err := readQuestions(in)
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Pipeline.QueryBatch(ctx, questions, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

func readQuestions(r io.Reader) ([]string, error) {
	var questions []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		questions = append(questions, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read questions: %w", err)
	}
	return questions, nil
}

func init() {
	addQueryFlags(batchCmd)
	rootCmd.AddCommand(batchCmd)
}
