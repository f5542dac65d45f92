package model

import (
	"fmt"
	"strings"

	"golang.org/x/exp/rand"

	"github.com/attnmt/attnmt/attention"
	"github.com/attnmt/attnmt/encoder"
	"github.com/attnmt/attnmt/fs/record"
	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/ml/nn"
	"github.com/attnmt/attnmt/types/errtypes"
	"github.com/attnmt/attnmt/vocab"
)

// CreateOptions describe a new, randomly initialized model.
type CreateOptions struct {
	Kind Kind

	// Source is unused for language models. For classifiers Target holds
	// the labels.
	Source *vocab.Vocabulary
	Target *vocab.Vocabulary

	WordRep int

	// Layers is the decoder recurrent spec, for example "lstm:100:1".
	// EncoderLayers defaults to it.
	Layers        string
	EncoderLayers string

	// Encoders lists the direction of each encoder, "for" or "rev".
	Encoders []string

	Attention        string
	ClassifierLayers string
	Softmax          string

	// Src seeds the parameters. A nil Src leaves them zero.
	Src rand.Source

	ParamOptions record.ParamOptions
}

func (o *CreateOptions) encoders(params *ml.Params) ([]*encoder.Encoder, error) {
	if o.Source == nil {
		return nil, &errtypes.InvalidModelConfigError{Config: string(o.Kind), Reason: "source vocabulary is required"}
	}
	if len(o.Encoders) == 0 {
		return nil, &errtypes.InvalidModelConfigError{Config: string(o.Kind), Reason: "at least one encoder is required"}
	}

	layers := o.EncoderLayers
	if layers == "" {
		layers = o.Layers
	}

	encoders := make([]*encoder.Encoder, len(o.Encoders))
	for i, dir := range o.Encoders {
		e, err := encoder.New(o.Source.Size(), o.WordRep, layers, o.Source.Unk(), params)
		if err != nil {
			return nil, err
		}

		switch strings.TrimSpace(dir) {
		case "for":
		case "rev":
			e.SetReverse(true)
		default:
			return nil, &errtypes.InvalidModelConfigError{Config: dir, Reason: "encoder direction must be for or rev"}
		}
		encoders[i] = e
	}
	return encoders, nil
}

// Create builds a model file with freshly initialized parameters.
// Components are created in the order a reader recreates them.
func Create(o CreateOptions) (*File, error) {
	if o.Target == nil {
		return nil, &errtypes.InvalidModelConfigError{Config: string(o.Kind), Reason: "target vocabulary is required"}
	}
	if o.Softmax == "" {
		o.Softmax = "full"
	}

	f := &File{
		Kind:         o.Kind,
		Source:       o.Source,
		Target:       o.Target,
		Params:       ml.NewParams(o.Src),
		ParamOptions: o.ParamOptions,
	}

	switch o.Kind {
	case KindLM:
		f.Source = nil
		lm, err := NewLM(o.Target.Size(), 0, o.WordRep, o.Layers, o.Target.Unk(), o.Softmax, f.Params)
		if err != nil {
			return nil, err
		}
		f.Model = lm
	case KindEncDec:
		encoders, err := o.encoders(f.Params)
		if err != nil {
			return nil, err
		}

		var width int
		for _, e := range encoders {
			width += e.HiddenSize()
		}

		lm, err := NewLM(o.Target.Size(), width, o.WordRep, o.Layers, o.Target.Unk(), o.Softmax, f.Params)
		if err != nil {
			return nil, err
		}
		if f.Model, err = NewEncoderDecoder(encoders, lm, f.Params); err != nil {
			return nil, err
		}
	case KindEncAtt:
		encoders, err := o.encoders(f.Params)
		if err != nil {
			return nil, err
		}

		spec, err := nn.ParseSpec(o.Layers)
		if err != nil {
			return nil, err
		}

		scorer, err := attention.New(encoders, o.Attention, spec.Nodes, f.Params)
		if err != nil {
			return nil, err
		}

		lm, err := NewLM(o.Target.Size(), scorer.ContextSize(), o.WordRep, o.Layers, o.Target.Unk(), o.Softmax, f.Params)
		if err != nil {
			return nil, err
		}
		if f.Model, err = NewEncoderAttentional(scorer, lm, f.Params); err != nil {
			return nil, err
		}
	case KindClassifier:
		encoders, err := o.encoders(f.Params)
		if err != nil {
			return nil, err
		}
		if f.Model, err = NewClassifier(encoders, o.Target.Size(), o.ClassifierLayers, f.Params); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown model type %q", errtypes.ErrInvalidSpec, o.Kind)
	}

	return f, nil
}
