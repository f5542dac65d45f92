package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/attnmt/attnmt/format"
	"github.com/attnmt/attnmt/model"
)

func ShowHandler(cmd *cobra.Command, args []string) error {
	path := args[0]

	fi, err := os.Stat(path)
	if err != nil {
		return err
	}

	f, err := model.Load(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	data := [][]string{
		{"kind", string(f.Kind)},
		{"target vocabulary", strconv.Itoa(f.Target.Size())},
	}
	if f.Source != nil {
		data = append(data, []string{"source vocabulary", strconv.Itoa(f.Source.Size())})
	}
	data = append(data,
		[]string{"parameters", format.Parameters(f.Params.Count())},
		[]string{"encoding", fmt.Sprintf("%s %s", f.ParamOptions.Encoding, f.ParamOptions.DType)},
		[]string{"size", format.HumanBytes(fi.Size())},
	)

	table := tablewriter.NewWriter(out)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	if all, _ := cmd.Flags().GetBool("parameters"); all {
		data = data[:0]
		for _, p := range f.Params.All() {
			data = append(data, []string{p.Name, format.Shape(p.Rows, p.Cols), strconv.Itoa(p.Size())})
		}

		fmt.Fprintln(out)
		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"NAME", "SHAPE", "VALUES"})
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetHeaderLine(false)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")
		table.AppendBulk(data)
		table.Render()
	}

	return nil
}
