package record

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gotest.tools/v3/assert"

	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/types/errtypes"
)

func testParams() *ml.Params {
	ps := ml.NewParams(nil)
	w := ps.Add("encoder.rnn.0.x.weight", 2, 3)
	copy(w.Data, []float64{0.5, -0.25, 1, 0, -2, 0.125})
	b := ps.Add("encoder.rnn.0.x.bias", 2, 1)
	copy(b.Data, []float64{3.5, -1})
	return ps
}

func blank(ps *ml.Params) *ml.Params {
	out := ml.NewParams(nil)
	for _, p := range ps.All() {
		out.Add(p.Name, p.Rows, p.Cols)
	}
	return out
}

func TestParamsRoundTrip(t *testing.T) {
	for _, enc := range []Encoding{EncodingText, EncodingCBOR} {
		for _, dt := range []DType{DTypeF32, DTypeF64, DTypeF16, DTypeBF16} {
			t.Run(fmt.Sprintf("%s/%s", enc, dt), func(t *testing.T) {
				ps := testParams()
				opts := ParamOptions{Encoding: enc, DType: dt}

				var b bytes.Buffer
				assert.NilError(t, WriteParams(&b, ps, opts))
				written := b.String()

				got := blank(ps)
				read, err := ReadParams(NewReader(&b), got)
				assert.NilError(t, err)
				assert.DeepEqual(t, opts, read)

				// every value here is exactly representable in all dtypes
				for i, p := range got.All() {
					assert.DeepEqual(t, ps.All()[i].Data, p.Data)
				}

				// writing the loaded values again reproduces the bytes
				var again bytes.Buffer
				assert.NilError(t, WriteParams(&again, got, read))
				assert.Equal(t, written, again.String())
			})
		}
	}
}

func TestParamsLossy(t *testing.T) {
	ps := ml.NewParams(nil)
	p := ps.Add("w", 1, 3)
	copy(p.Data, []float64{math.Pi, -math.E, 1e-3})

	for _, dt := range []DType{DTypeF16, DTypeBF16} {
		t.Run(string(dt), func(t *testing.T) {
			var b bytes.Buffer
			if err := WriteParams(&b, ps, ParamOptions{Encoding: EncodingCBOR, DType: dt}); err != nil {
				t.Fatal(err)
			}

			got := blank(ps)
			if _, err := ReadParams(NewReader(&b), got); err != nil {
				t.Fatal(err)
			}

			if diff := cmp.Diff(p.Data, got.All()[0].Data, cmpopts.EquateApprox(1e-2, 0)); diff != "" {
				t.Errorf("values mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParamsDefaults(t *testing.T) {
	var b bytes.Buffer
	if err := WriteParams(&b, testParams(), ParamOptions{}); err != nil {
		t.Fatal(err)
	}

	first, _, _ := strings.Cut(b.String(), "\n")
	if diff := cmp.Diff("params_001 text f32 2", first); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestParamsErrors(t *testing.T) {
	var b bytes.Buffer
	if err := WriteParams(&b, testParams(), ParamOptions{Encoding: EncodingText, DType: DTypeF32}); err != nil {
		t.Fatal(err)
	}
	text := b.String()

	t.Run("unsupported dtype", func(t *testing.T) {
		err := WriteParams(&bytes.Buffer{}, testParams(), ParamOptions{DType: "q4"})
		if !errors.Is(err, errtypes.ErrUnsupported) {
			t.Errorf("expected unsupported, got %v", err)
		}
	})

	t.Run("unsupported encoding", func(t *testing.T) {
		err := WriteParams(&bytes.Buffer{}, testParams(), ParamOptions{Encoding: "gob"})
		if !errors.Is(err, errtypes.ErrUnsupported) {
			t.Errorf("expected unsupported, got %v", err)
		}
	})

	t.Run("count mismatch", func(t *testing.T) {
		ps := blank(testParams())
		ps.Add("extra", 1, 1)
		_, err := ReadParams(NewReader(strings.NewReader(text)), ps)
		if !errors.Is(err, errtypes.ErrShapeMismatch) {
			t.Errorf("expected shape mismatch, got %v", err)
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		ps := ml.NewParams(nil)
		ps.Add("encoder.rnn.0.x.weight", 3, 2)
		ps.Add("encoder.rnn.0.x.bias", 2, 1)
		_, err := ReadParams(NewReader(strings.NewReader(text)), ps)
		if !errors.Is(err, errtypes.ErrShapeMismatch) {
			t.Errorf("expected shape mismatch, got %v", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := ReadParams(NewReader(strings.NewReader(text[:len(text)/2])), blank(testParams()))
		if err == nil {
			t.Error("expected error for truncated block")
		}
	})
}
