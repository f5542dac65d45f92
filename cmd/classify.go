package cmd

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/attnmt/attnmt/batch"
	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/model"
	"github.com/attnmt/attnmt/vocab"
)

func ClassifyHandler(cmd *cobra.Command, args []string) error {
	maxWords, _ := cmd.Flags().GetInt("batch-words")

	f, err := model.Load(args[0])
	if err != nil {
		return err
	}

	c, err := f.Classifier()
	if err != nil {
		return err
	}

	lines, err := readLines(cmd.InOrStdin())
	if err != nil {
		return err
	}

	srcs := make([]vocab.Sentence, len(lines))
	for i, line := range lines {
		srcs[i] = f.Source.Parse(line, true)
	}

	backend, err := ml.NewBackend("cpu")
	if err != nil {
		return err
	}

	ctx := backend.NewContext()
	defer ctx.Close()
	c.Bind(ctx)

	labels := make([]int32, len(srcs))
	for _, bucket := range batch.Buckets(srcs, maxWords) {
		group := make([]vocab.Sentence, len(bucket))
		for j, i := range bucket {
			group[j] = srcs[i]
		}

		out, err := c.ClassifyBatch(ctx, group)
		if err != nil {
			return err
		}
		for j, i := range bucket {
			labels[i] = out[j]
		}
	}

	bw := bufio.NewWriter(cmd.OutOrStdout())
	for _, label := range labels {
		fmt.Fprintln(bw, f.Target.Word(label))
	}
	return bw.Flush()
}
