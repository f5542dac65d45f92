package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/attnmt/attnmt/ensemble"
	"github.com/attnmt/attnmt/envconfig"
	"github.com/attnmt/attnmt/logutil"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "attnmt",
		Short: "Attentional neural translation toolkit",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
			logutil.SetDefault(os.Stderr, envconfig.LogLevel())
		},
	}

	cobra.EnableCommandSorting = false

	createCmd := &cobra.Command{
		Use:   "create MODEL",
		Short: "Create a randomly initialized model file",
		Args:  cobra.ExactArgs(1),
		RunE:  CreateHandler,
	}

	createCmd.Flags().String("kind", "encatt", "Model kind (nlm, encdec, encatt, enccls)")
	createCmd.Flags().String("src", "", "Source training text used to build the source vocabulary")
	createCmd.Flags().String("trg", "", "Target training text (or one label per line) used to build the target vocabulary")
	createCmd.Flags().Int("wordrep", 100, "Word representation size")
	createCmd.Flags().String("layers", "lstm:100:1", "Recurrent decoder layers as type:nodes:layers")
	createCmd.Flags().String("encoders", "for|rev", "Encoder directions separated by |")
	createCmd.Flags().String("enc-layers", "", "Recurrent encoder layers (default matches --layers)")
	createCmd.Flags().String("attention", "mlp:100", "Attention type (dot, bilin, mlp:<hidden>)")
	createCmd.Flags().String("cls-layers", "-", "Classifier hidden layer widths as a:b, - for none")
	createCmd.Flags().String("softmax", "full", "Output softmax")
	createCmd.Flags().Int64("seed", 0, "Random seed for initialization (0 seeds from the clock)")
	createCmd.Flags().String("encoding", "text", "Parameter encoding (text, cbor)")
	createCmd.Flags().String("dtype", "f32", "Parameter type (f32, f64, f16, bf16)")

	showCmd := &cobra.Command{
		Use:   "show MODEL",
		Short: "Show the components and parameters of a model file",
		Args:  cobra.ExactArgs(1),
		RunE:  ShowHandler,
	}

	showCmd.Flags().Bool("parameters", false, "List every parameter")

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Translate standard input with an ensemble of models",
		Args:  cobra.NoArgs,
		RunE:  DecodeHandler,
	}

	decodeFlags(decodeCmd)
	decodeCmd.Flags().Int("parallel", envconfig.NumParallel, "Number of sentences decoded in parallel")
	decodeCmd.Flags().Bool("align", false, "Print the alignment of every output word")

	scoreCmd := &cobra.Command{
		Use:   "score",
		Short: "Score \"source ||| target\" lines from standard input",
		Args:  cobra.NoArgs,
		RunE:  ScoreHandler,
	}

	decodeFlags(scoreCmd)

	sampleCmd := &cobra.Command{
		Use:   "sample",
		Short: "Sample outputs for every line of standard input",
		Args:  cobra.NoArgs,
		RunE:  SampleHandler,
	}

	decodeFlags(sampleCmd)
	sampleCmd.Flags().Int("samples", 1, "Number of samples per sentence")
	sampleCmd.Flags().Int64("seed", envconfig.Seed, "Random seed (0 seeds from the clock)")

	classifyCmd := &cobra.Command{
		Use:   "classify MODEL",
		Short: "Label every line of standard input",
		Args:  cobra.ExactArgs(1),
		RunE:  ClassifyHandler,
	}

	classifyCmd.Flags().Int("batch-words", 2000, "Maximum source words per batch")

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Serve an ensemble over HTTP",
		Args:    cobra.NoArgs,
		RunE:    RunServer,
	}

	decodeFlags(serveCmd)
	serveCmd.SetUsageTemplate(serveCmd.UsageTemplate() + envUsage())

	rootCmd.AddCommand(
		createCmd,
		showCmd,
		decodeCmd,
		scoreCmd,
		sampleCmd,
		classifyCmd,
		serveCmd,
	)

	return rootCmd
}

func decodeFlags(cmd *cobra.Command) {
	cmd.Flags().String("models", "", "Model files separated by |")
	cmd.Flags().Int("beam", envconfig.Beam, "Beam width")
	cmd.Flags().Int("size-limit", envconfig.SizeLimit, "Maximum output length")
	cmd.Flags().Float64("word-pen", envconfig.WordPen, "Score added per output word")
	cmd.Flags().String("ensemble-op", envconfig.EnsembleOp, "Ensemble fusion (sum, logsum)")
	cmd.Flags().Int("pad", 1, "Start symbols of history before the first word")
	_ = cmd.MarkFlagRequired("models")
}

func modelPaths(cmd *cobra.Command) []string {
	s, _ := cmd.Flags().GetString("models")
	var paths []string
	for _, p := range strings.Split(s, "|") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func decodeConfig(cmd *cobra.Command) (ensemble.Config, error) {
	cfg := ensemble.DefaultConfig()

	var err error
	if cfg.BeamSize, err = cmd.Flags().GetInt("beam"); err != nil {
		return cfg, err
	}
	if cfg.SizeLimit, err = cmd.Flags().GetInt("size-limit"); err != nil {
		return cfg, err
	}
	if cfg.WordPen, err = cmd.Flags().GetFloat64("word-pen"); err != nil {
		return cfg, err
	}
	if cfg.Pad, err = cmd.Flags().GetInt("pad"); err != nil {
		return cfg, err
	}

	op, err := cmd.Flags().GetString("ensemble-op")
	if err != nil {
		return cfg, err
	}
	if cfg.Op, err = ensemble.ParseOp(op); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envUsage() string {
	var sb strings.Builder
	sb.WriteString("\nEnvironment Variables:\n")
	for _, name := range []string{"ATTNMT_DEBUG", "ATTNMT_HOST", "ATTNMT_ORIGINS", "ATTNMT_BEAM", "ATTNMT_SIZE_LIMIT", "ATTNMT_WORD_PEN", "ATTNMT_ENSEMBLE_OP"} {
		fmt.Fprintf(&sb, "      %-22s %s\n", name, envconfig.AsMap()[name].Description)
	}
	return sb.String()
}
