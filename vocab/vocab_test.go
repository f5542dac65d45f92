package vocab

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attnmt/attnmt/fs/record"
)

func TestConvert(t *testing.T) {
	v := New()
	assert.Equal(t, int32(0), v.Convert(StartSymbol))
	assert.Equal(t, int32(1), v.Convert("the"))
	assert.Equal(t, int32(2), v.Convert("house"))
	assert.Equal(t, int32(1), v.Convert("the"))

	v.Freeze()
	assert.Equal(t, int32(-1), v.Convert("garden"))

	v.SetUnk(UnkSymbol)
	assert.Equal(t, int32(3), v.Unk())
	assert.Equal(t, int32(3), v.Convert("garden"))
	assert.True(t, v.Frozen())
	assert.Equal(t, 4, v.Size())
}

func TestParse(t *testing.T) {
	v := New()
	for _, w := range []string{"a", "b", "c"} {
		v.Convert(w)
	}
	v.SetUnk(UnkSymbol)
	v.Freeze()

	if diff := cmp.Diff(Sentence{1, 3, 4, 0}, v.Parse(" a c  zzz\t", true)); diff != "" {
		t.Errorf("parse mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Sentence{2}, v.Parse("b", false)); diff != "" {
		t.Errorf("parse mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Sentence{0}, v.Parse("", true)); diff != "" {
		t.Errorf("parse mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, "a c <unk> <s>", v.String(Sentence{1, 3, 4, 0}))
	assert.Equal(t, UnkSymbol, v.Word(99))
}

func TestClone(t *testing.T) {
	s := Sentence{1, 2}
	c := s.Clone()
	c = append(c, 3)
	c[0] = 9

	assert.Equal(t, Sentence{1, 2}, s)
	assert.Equal(t, Sentence{9, 2, 3}, c)
}

func TestRoundTrip(t *testing.T) {
	v := New()
	v.Parse("das haus ist klein", false)
	v.SetUnk(UnkSymbol)
	v.Freeze()

	var b bytes.Buffer
	require.NoError(t, v.Write(&b))
	assert.Equal(t, "vocab_001 6 5\n<s>\ndas\nhaus\nist\nklein\n<unk>\n", b.String())

	got, err := Read(record.NewReader(&b))
	require.NoError(t, err)
	assert.True(t, got.Frozen())
	assert.Equal(t, v.Unk(), got.Unk())
	assert.Equal(t, v.Size(), got.Size())
	for id := range int32(v.Size()) {
		assert.Equal(t, v.Word(id), got.Word(id))
	}
}

func TestReadBadUnk(t *testing.T) {
	_, err := Read(record.NewReader(bytes.NewBufferString("vocab_001 1 4\n<s>\n")))
	assert.Error(t, err)
}
