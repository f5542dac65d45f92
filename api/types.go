package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mitchellh/mapstructure"
)

type Error struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

func (e Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %v", e.Code, strings.ToLower(http.StatusText(int(e.Code))))
	}
	return e.Message
}

// Options override the server's decoding configuration for one request.
// Zero values keep the server default. WordPen keeps it only when nil.
type Options struct {
	Beam       int      `json:"beam,omitempty" mapstructure:"beam"`
	SizeLimit  int      `json:"size_limit,omitempty" mapstructure:"size_limit"`
	WordPen    *float64 `json:"word_pen,omitempty" mapstructure:"word_pen"`
	EnsembleOp string   `json:"ensemble_op,omitempty" mapstructure:"ensemble_op"`
	Samples    int      `json:"samples,omitempty" mapstructure:"samples"`
	Seed       int64    `json:"seed,omitempty" mapstructure:"seed"`
}

// FromMap fills o from a loosely typed options map such as a decoded JSON
// object. Unknown keys are an error.
func (o *Options) FromMap(m map[string]any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           o,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(m)
}

type GenerateRequest struct {
	// Source is a whitespace tokenized sentence. Language models ignore it.
	Source  string         `json:"source"`
	Options map[string]any `json:"options,omitempty"`
}

type GenerateResponse struct {
	Source    string  `json:"source"`
	Target    string  `json:"target"`
	Alignment []int   `json:"alignment,omitempty"`
	Score     float64 `json:"score"`
	LogProb   float64 `json:"log_prob"`
}

type ScoreRequest struct {
	Source  string         `json:"source"`
	Target  string         `json:"target"`
	Options map[string]any `json:"options,omitempty"`
}

type ScoreResponse struct {
	LogLik     float64 `json:"log_lik"`
	Words      int     `json:"words"`
	Unks       int     `json:"unks"`
	Perplexity float64 `json:"perplexity"`
}

type SampleRequest struct {
	Source  string         `json:"source"`
	Options map[string]any `json:"options,omitempty"`
}

type SampleResponse struct {
	Samples []GenerateResponse `json:"samples"`
}

type ModelInfo struct {
	Path       string `json:"path"`
	Kind       string `json:"kind"`
	Parameters int    `json:"parameters"`
	Values     int    `json:"values"`
}

type ShowResponse struct {
	Models []ModelInfo `json:"models"`
}
