package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sourceCorpus = "das haus ist klein\nder mann ist gross\ndas ist gut\n"
	targetCorpus = "the house is small\nthe man is tall\nthat is good\n"
)

func run(t *testing.T, stdin string, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	cmd := NewCLI()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func createModel(t *testing.T, kind string, extra ...string) string {
	t.Helper()

	dir := t.TempDir()
	src := writeFile(t, dir, "src.txt", sourceCorpus)
	trg := writeFile(t, dir, "trg.txt", targetCorpus)
	path := filepath.Join(dir, kind+".mod")

	args := append([]string{
		"create", path,
		"--kind", kind,
		"--src", src,
		"--trg", trg,
		"--wordrep", "4",
		"--layers", "lstm:4:1",
		"--attention", "mlp:3",
		"--seed", "7",
	}, extra...)
	run(t, "", args...)
	return path
}

func TestDecodeParallelKeepsOrder(t *testing.T) {
	path := createModel(t, "encatt")
	input := "das haus ist klein\nder mann\nunbekannt wort\ndas ist gut\n"

	serial := run(t, input, "decode", "--models", path, "--beam", "2", "--size-limit", "6", "--parallel", "1")
	parallel := run(t, input, "decode", "--models", path, "--beam", "2", "--size-limit", "6", "--parallel", "3")

	if diff := cmp.Diff(serial, parallel); diff != "" {
		t.Errorf("parallel decode mismatch (-serial +parallel):\n%s", diff)
	}
	assert.Len(t, strings.Split(strings.TrimSuffix(serial, "\n"), "\n"), 4)
}

func TestDecodeEnsemble(t *testing.T) {
	a := createModel(t, "encatt")
	b := createModel(t, "encdec", "--seed", "11")

	out := run(t, "das haus\n", "decode", "--models", a+"|"+b, "--beam", "3", "--size-limit", "5", "--align", "--ensemble-op", "logsum")

	target, align, ok := strings.Cut(strings.TrimSpace(out), scoreSeparator)
	require.True(t, ok, out)

	// one alignment per output word, plus the end symbol unless the size
	// limit cut the output
	words, positions := len(strings.Fields(target)), len(strings.Fields(align))
	assert.Contains(t, []int{words, words + 1}, positions)
}

func TestOversizedSentenceIsSkipped(t *testing.T) {
	path := createModel(t, "encatt")
	oversized := strings.Repeat("das ", 600)

	t.Run("decode", func(t *testing.T) {
		want := strings.Split(run(t, "das haus\nder mann\n", "decode", "--models", path, "--size-limit", "5"), "\n")

		out := run(t, "das haus\n"+oversized+"\nder mann\n", "decode", "--models", path, "--size-limit", "5", "--parallel", "2")
		lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, want[0], lines[0])
		assert.Empty(t, lines[1])
		assert.Equal(t, want[1], lines[2])
	})

	t.Run("score", func(t *testing.T) {
		out := run(t, "das haus ||| the house\n"+oversized+"||| the house\nder mann ||| the man\n", "score", "--models", path)
		lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
		require.Len(t, lines, 3)
		assert.Len(t, strings.Split(lines[0], "\t"), 3)
		assert.Empty(t, lines[1])
		assert.Len(t, strings.Split(lines[2], "\t"), 3)
	})

	t.Run("sample", func(t *testing.T) {
		out := run(t, "das haus\n"+oversized+"\nder mann\n", "sample", "--models", path, "--samples", "2", "--seed", "5", "--size-limit", "4")
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 4)
		for i, prefix := range []string{"0 ", "0 ", "2 ", "2 "} {
			assert.True(t, strings.HasPrefix(lines[i], prefix), lines[i])
		}
	})
}

func TestScore(t *testing.T) {
	path := createModel(t, "encatt")

	out := run(t, "das haus ||| the house\nder mann ||| the man is\n", "score", "--models", path)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var words []string
	for _, line := range lines {
		fields := strings.Split(line, "\t")
		require.Len(t, fields, 3)
		assert.True(t, strings.HasPrefix(fields[0], "-"), "log likelihood %s should be negative", fields[0])
		words = append(words, fields[1])
	}

	if diff := cmp.Diff([]string{"3", "4"}, words); diff != "" {
		t.Errorf("word counts mismatch (-want +got):\n%s", diff)
	}
}

func TestScoreLanguageModel(t *testing.T) {
	path := createModel(t, "nlm")

	out := run(t, "the house is small\n", "score", "--models", path)
	fields := strings.Split(strings.TrimSpace(out), "\t")
	require.Len(t, fields, 3)
	assert.Equal(t, "5", fields[1])
	assert.Equal(t, "0", fields[2])
}

func TestSampleDeterministic(t *testing.T) {
	path := createModel(t, "encatt")

	args := []string{"sample", "--models", path, "--samples", "3", "--seed", "42", "--size-limit", "5"}
	first := run(t, "das haus\n", args...)
	second := run(t, "das haus\n", args...)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("samples differ with the same seed (-first +second):\n%s", diff)
	}
	assert.Len(t, strings.Split(strings.TrimSpace(first), "\n"), 3)
}

func TestShow(t *testing.T) {
	path := createModel(t, "encatt", "--encoding", "cbor", "--dtype", "f16")

	out := run(t, "", "show", path, "--parameters")
	assert.Contains(t, out, "encatt")
	assert.Contains(t, out, "cbor f16")
	assert.Contains(t, out, "encoder.wordrep")
	assert.Contains(t, out, "decoder.rnn")
	assert.Contains(t, out, "attention.w1")
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src.txt", sourceCorpus)
	labels := writeFile(t, dir, "labels.txt", "positive\nnegative\n")
	path := filepath.Join(dir, "cls.mod")

	run(t, "", "create", path, "--kind", "enccls", "--src", src, "--trg", labels,
		"--wordrep", "4", "--layers", "rnn:3:1", "--encoders", "for|rev", "--cls-layers", "5", "--seed", "3")

	out := run(t, "das haus ist klein\nder mann\ngut\n", "classify", path, "--batch-words", "4")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for _, label := range lines {
		assert.Contains(t, []string{"<s>", "positive", "negative"}, label)
	}
}

func TestCreateRequiresSource(t *testing.T) {
	dir := t.TempDir()
	trg := writeFile(t, dir, "trg.txt", targetCorpus)

	cmd := NewCLI()
	cmd.SetArgs([]string{"create", filepath.Join(dir, "x.mod"), "--kind", "encdec", "--trg", trg})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.ErrorContains(t, cmd.Execute(), "--src is required")
}
