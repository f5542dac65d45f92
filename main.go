package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/attnmt/attnmt/cmd"
)

func main() {
	cobra.CheckErr(cmd.NewCLI().ExecuteContext(context.Background()))
}
