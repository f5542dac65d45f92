package api

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func TestOptionsFromMap(t *testing.T) {
	cases := []struct {
		name string
		json string
		want Options
	}{
		{"empty", `{}`, Options{}},
		{"numbers", `{"beam": 4, "size_limit": 50, "word_pen": -0.25}`, Options{Beam: 4, SizeLimit: 50, WordPen: ptr(-0.25)}},
		{"zero penalty", `{"word_pen": 0}`, Options{WordPen: ptr(0.0)}},
		{"string penalty", `{"word_pen": "1.5"}`, Options{WordPen: ptr(1.5)}},
		{"strings", `{"beam": "3", "seed": "99", "samples": "2"}`, Options{Beam: 3, Seed: 99, Samples: 2}},
		{"ensemble op", `{"ensemble_op": "logsum"}`, Options{EnsembleOp: "logsum"}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			var m map[string]any
			require.NoError(t, json.Unmarshal([]byte(tt.json), &m))

			var got Options
			require.NoError(t, got.FromMap(m))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("options mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOptionsFromMapErrors(t *testing.T) {
	for _, m := range []map[string]any{
		{"temperature": 0.5},
		{"beam": "wide"},
		{"word_pen": []int{1}},
	} {
		var o Options
		assert.Error(t, o.FromMap(m), "%v", m)
	}
}

func TestError(t *testing.T) {
	assert.Equal(t, "400 bad request", Error{Code: 400}.Error())
	assert.Equal(t, "oversized source", Error{Code: 400, Message: "oversized source"}.Error())
}
