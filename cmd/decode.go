package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/attnmt/attnmt/ensemble"
	"github.com/attnmt/attnmt/ml"
	_ "github.com/attnmt/attnmt/ml/backend/cpu"
	"github.com/attnmt/attnmt/model"
	"github.com/attnmt/attnmt/types/errtypes"
)

const scoreSeparator = "|||"

// worker is one loaded ensemble bound to its own context. Members keep
// per-sentence state so workers never share models.
type worker struct {
	set *model.Set
	dec *ensemble.Decoder
	ctx ml.Context
}

func newWorker(cmd *cobra.Command) (*worker, error) {
	cfg, err := decodeConfig(cmd)
	if err != nil {
		return nil, err
	}

	set, err := model.LoadSet(modelPaths(cmd)...)
	if err != nil {
		return nil, err
	}
	cfg.UnkID = set.Target.Unk()

	adapters, err := set.Adapters()
	if err != nil {
		return nil, err
	}

	dec, err := ensemble.New(adapters, cfg, slog.Default())
	if err != nil {
		return nil, err
	}

	backend, err := ml.NewBackend("cpu")
	if err != nil {
		return nil, err
	}

	ctx := backend.NewContext()
	dec.Bind(ctx)
	return &worker{set: set, dec: dec, ctx: ctx}, nil
}

func (w *worker) Close() error {
	return w.ctx.Close()
}

func (w *worker) generate(line string, align bool) (string, error) {
	r, err := w.dec.Generate(w.ctx, w.set.ParseSource(line))
	if err != nil {
		return "", err
	}

	out := w.set.Target.String(r.Sentence)
	if align {
		pos := make([]string, len(r.Alignment))
		for i, a := range r.Alignment {
			pos[i] = strconv.Itoa(a)
		}
		out = fmt.Sprintf("%s %s %s", out, scoreSeparator, strings.Join(pos, " "))
	}
	return out, nil
}

// skipped reports whether err only fails the sentence on line, logging it
// when it does. Such lines produce empty output and the run continues.
func skipped(err error, line int) bool {
	if !errors.Is(err, errtypes.ErrOversized) {
		return false
	}
	slog.Warn("skipping sentence", "line", line, "error", err)
	return true
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func interactive(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func DecodeHandler(cmd *cobra.Command, _ []string) error {
	parallel, _ := cmd.Flags().GetInt("parallel")
	align, _ := cmd.Flags().GetBool("align")

	in, out := cmd.InOrStdin(), cmd.OutOrStdout()

	// a terminal gets one translation per line as it is typed
	if interactive(in) {
		w, err := newWorker(cmd)
		if err != nil {
			return err
		}
		defer w.Close()

		scanner := bufio.NewScanner(in)
		for n := 1; scanner.Scan(); n++ {
			s, err := w.generate(scanner.Text(), align)
			if err != nil && !skipped(err, n) {
				return err
			}
			fmt.Fprintln(out, s)
		}
		return scanner.Err()
	}

	lines, err := readLines(in)
	if err != nil {
		return err
	}

	start := time.Now()
	results, err := decodeParallel(cmd, lines, max(parallel, 1), align)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(out)
	for _, s := range results {
		fmt.Fprintln(bw, s)
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	slog.Debug("decoded", "sentences", len(lines), "parallel", parallel, "duration", time.Since(start))
	return nil
}

// decodeParallel translates lines with n workers, keeping input order.
func decodeParallel(cmd *cobra.Command, lines []string, n int, align bool) ([]string, error) {
	results := make([]string, len(lines))
	n = min(n, max(len(lines), 1))

	jobs := make(chan int)
	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		defer close(jobs)
		for i := range lines {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for range n {
		g.Go(func() error {
			w, err := newWorker(cmd)
			if err != nil {
				return err
			}
			defer w.Close()

			for i := range jobs {
				s, err := w.generate(lines[i], align)
				if err != nil && !skipped(err, i+1) {
					return fmt.Errorf("line %d: %w", i+1, err)
				}
				results[i] = s
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func ScoreHandler(cmd *cobra.Command, _ []string) error {
	w, err := newWorker(cmd)
	if err != nil {
		return err
	}
	defer w.Close()

	lines, err := readLines(cmd.InOrStdin())
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(cmd.OutOrStdout())

	var total ensemble.LLStats
	for i, line := range lines {
		src, trg, ok := strings.Cut(line, scoreSeparator)
		if !ok {
			// language models score the whole line
			src, trg = "", line
		}

		stats, err := w.dec.CalcSentLL(w.ctx, w.set.ParseSource(src), w.set.ParseTarget(trg))
		if skipped(err, i+1) {
			fmt.Fprintln(bw)
			continue
		} else if err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}

		fmt.Fprintf(bw, "%f\t%d\t%d\n", stats.LogLik, stats.Words, stats.Unks)
		total.LogLik += stats.LogLik
		total.Words += stats.Words
		total.Unks += stats.Unks
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	if total.Words > 0 {
		slog.Info("scored", "sentences", len(lines), "words", total.Words, "unks", total.Unks, "loglik", total.LogLik, "ppl", math.Exp(-total.LogLik/float64(total.Words)))
	}
	return nil
}

func SampleHandler(cmd *cobra.Command, _ []string) error {
	n, _ := cmd.Flags().GetInt("samples")
	if n <= 0 {
		return errors.New("--samples must be positive")
	}

	seed, _ := cmd.Flags().GetInt64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.NewSource(uint64(seed))

	w, err := newWorker(cmd)
	if err != nil {
		return err
	}
	defer w.Close()

	lines, err := readLines(cmd.InOrStdin())
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(cmd.OutOrStdout())
	for i, line := range lines {
		results, err := w.dec.Sample(w.ctx, w.set.ParseSource(line), n, rng)
		if skipped(err, i+1) {
			continue
		} else if err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}

		for _, r := range results {
			fmt.Fprintf(bw, "%d %s %f %s %s\n", i, scoreSeparator, r.Score, scoreSeparator, w.set.Target.String(r.Sentence))
		}
	}
	return bw.Flush()
}
