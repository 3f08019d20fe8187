package main

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadQuestions(t *testing.T) {
	in := strings.NewReader("what is attention?\n\n# comment\n  how does BERT pretrain?  \n")

	got, err := readQuestions(in)

	require.NoError(t, err)
	assert.Equal(t, []string{"what is attention?", "how does BERT pretrain?"}, got)
}

func TestQueryOptions(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "x"}
		addQueryFlags(cmd)
		return cmd
	}

	cmd := newCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--k", "7"}))
	opts, err := queryOptions(cmd)
	require.NoError(t, err)
	assert.Equal(t, 7, opts.K)
	assert.Nil(t, opts.WithReranking)

	cmd = newCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--rerank=false"}))
	opts, err = queryOptions(cmd)
	require.NoError(t, err)
	require.NotNil(t, opts.WithReranking)
	assert.False(t, *opts.WithReranking)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"ask", "compare", "batch", "similar", "years", "health"} {
		assert.True(t, names[want], want)
	}
}
