package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"

	"github.com/attnmt/attnmt/fs/record"
	"github.com/attnmt/attnmt/model"
	"github.com/attnmt/attnmt/vocab"
)

// readVocabulary builds a frozen vocabulary from every whitespace separated
// word of path. With labels set each whole line is one entry.
func readVocabulary(path string, labels bool) (*vocab.Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	v := vocab.New()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if labels {
			v.Convert(line)
			continue
		}
		for _, word := range strings.Fields(line) {
			v.Convert(word)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if !labels {
		v.SetUnk(vocab.UnkSymbol)
	}
	v.Freeze()
	return v, nil
}

func CreateHandler(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	kind, _ := flags.GetString("kind")
	srcPath, _ := flags.GetString("src")
	trgPath, _ := flags.GetString("trg")

	opts := model.CreateOptions{Kind: model.Kind(kind)}
	opts.WordRep, _ = flags.GetInt("wordrep")
	opts.Layers, _ = flags.GetString("layers")
	opts.EncoderLayers, _ = flags.GetString("enc-layers")
	opts.Attention, _ = flags.GetString("attention")
	opts.ClassifierLayers, _ = flags.GetString("cls-layers")
	opts.Softmax, _ = flags.GetString("softmax")

	encoders, _ := flags.GetString("encoders")
	opts.Encoders = strings.Split(encoders, "|")

	encoding, _ := flags.GetString("encoding")
	dtype, _ := flags.GetString("dtype")
	opts.ParamOptions = record.ParamOptions{Encoding: record.Encoding(encoding), DType: record.DType(dtype)}

	seed, _ := flags.GetInt64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	opts.Src = rand.NewSource(uint64(seed))

	if trgPath == "" {
		return errors.New("--trg is required")
	}

	var err error
	if opts.Target, err = readVocabulary(trgPath, opts.Kind == model.KindClassifier); err != nil {
		return err
	}

	if opts.Kind.Bilingual() {
		if srcPath == "" {
			return fmt.Errorf("--src is required for %s models", opts.Kind)
		}
		if opts.Source, err = readVocabulary(srcPath, false); err != nil {
			return err
		}
	}

	f, err := model.Create(opts)
	if err != nil {
		return err
	}

	if err := model.Save(args[0], f); err != nil {
		return err
	}

	slog.Info("created model", "path", args[0], "kind", f.Kind, "parameters", f.Params.Len(), "values", f.Params.Count(), "seed", seed)
	return nil
}
