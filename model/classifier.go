package model

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/attnmt/attnmt/encoder"
	"github.com/attnmt/attnmt/fs/record"
	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/ml/nn"
	"github.com/attnmt/attnmt/softmax"
	"github.com/attnmt/attnmt/types/errtypes"
	"github.com/attnmt/attnmt/vocab"
)

const classifierTag = "enccls_001"

// Classifier labels a whole sentence from the final vectors of its encoders,
// passed through tanh hidden layers and a softmax over labels.
type Classifier struct {
	encoders []*encoder.Encoder
	hidden   []int
	layers   []*nn.Linear
	out      softmax.Provider
	labels   int

	session ml.Session
}

// ParseLayers reads hidden layer widths written as "64:32". An empty string
// or "-" means no hidden layers.
func ParseLayers(s string) ([]int, error) {
	if s == "" || s == "-" {
		return nil, nil
	}

	var widths []int
	for _, part := range strings.Split(s, ":") {
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, &errtypes.InvalidModelConfigError{Config: s, Reason: "hidden layer widths must be positive integers"}
		}
		widths = append(widths, n)
	}
	return widths, nil
}

func formatLayers(widths []int) string {
	if len(widths) == 0 {
		return "-"
	}

	parts := make([]string, len(widths))
	for i, n := range widths {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ":")
}

func NewClassifier(encoders []*encoder.Encoder, labels int, layers string, params *ml.Params) (*Classifier, error) {
	if len(encoders) == 0 {
		return nil, &errtypes.InvalidModelConfigError{Config: classifierTag, Reason: "classifier needs at least one encoder"}
	}
	if labels <= 0 {
		return nil, &errtypes.InvalidModelConfigError{Config: classifierTag, Reason: "classifier needs at least one label"}
	}

	hidden, err := ParseLayers(layers)
	if err != nil {
		return nil, err
	}

	c := &Classifier{encoders: encoders, hidden: hidden, labels: labels}

	var in int
	for _, e := range encoders {
		in += e.HiddenSize()
	}
	for i, out := range hidden {
		c.layers = append(c.layers, nn.NewLinear(params, fmt.Sprintf("classifier.%d", i), in, out, true))
		in = out
	}

	if c.out, err = softmax.New("full", in, labels, params); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Classifier) Labels() int {
	return c.labels
}

func (c *Classifier) Encoders() []*encoder.Encoder {
	return c.encoders
}

func (c *Classifier) Bind(ctx ml.Context) {
	for _, e := range c.encoders {
		e.Bind(ctx)
	}
	c.session = ctx.Session()
}

// forward runs the encoders over srcs as one batch and returns [labels, batch]
// log probabilities.
func (c *Classifier) forward(ctx ml.Context, srcs []vocab.Sentence) (ml.Tensor, error) {
	if c.session.IsZero() || ctx.Session() != c.session {
		return nil, fmt.Errorf("classifier: %w", errtypes.ErrContextMismatch)
	}

	finals := make([]ml.Tensor, len(c.encoders))
	for i, e := range c.encoders {
		if _, err := e.EncodeBatch(ctx, srcs); err != nil {
			return nil, err
		}
		finals[i] = e.Final()
	}

	h := ml.Concat(ctx, 0, finals...)
	for _, l := range c.layers {
		h = l.Forward(ctx, h).Tanh(ctx)
	}
	return c.out.CalcLogProbability(ctx, h), nil
}

// Classify returns the most likely label of src and the log probability of
// every label.
func (c *Classifier) Classify(ctx ml.Context, src vocab.Sentence) (int32, []float64, error) {
	logp, err := c.forward(ctx, []vocab.Sentence{src})
	if err != nil {
		return 0, nil, err
	}

	scores := logp.Floats()
	return int32(floats.MaxIdx(scores)), scores, nil
}

func (c *Classifier) ClassifyBatch(ctx ml.Context, srcs []vocab.Sentence) ([]int32, error) {
	logp, err := c.forward(ctx, srcs)
	if err != nil {
		return nil, err
	}

	labels := make([]int32, len(srcs))
	for b := range labels {
		labels[b] = int32(floats.MaxIdx(logp.Column(ctx, b).Floats()))
	}
	return labels, nil
}

// CalcLoss is the negative log probability of label given src.
func (c *Classifier) CalcLoss(ctx ml.Context, src vocab.Sentence, label int32) (float64, error) {
	if label < 0 || int(label) >= c.labels {
		return 0, fmt.Errorf("%w: label %d outside %d labels", errtypes.ErrShapeMismatch, label, c.labels)
	}

	_, scores, err := c.Classify(ctx, src)
	if err != nil {
		return 0, err
	}
	return -scores[label], nil
}

func (c *Classifier) Write(w io.Writer) error {
	if err := record.Write(w, classifierTag, len(c.encoders), c.labels, formatLayers(c.hidden)); err != nil {
		return err
	}
	for _, e := range c.encoders {
		if err := e.Write(w); err != nil {
			return err
		}
	}
	return nil
}

func ReadClassifier(r *record.Reader, params *ml.Params) (*Classifier, error) {
	fields, err := r.Record(classifierTag, "EncoderClassifier")
	if err != nil {
		return nil, err
	}

	f := record.NewFields("EncoderClassifier", fields)
	count, labels, layers := f.Count(), f.Dim(), f.String()
	if err := f.Err(); err != nil {
		return nil, err
	}

	encoders := make([]*encoder.Encoder, count)
	for i := range encoders {
		if encoders[i], err = encoder.Read(r, params); err != nil {
			return nil, err
		}
	}

	return NewClassifier(encoders, labels, layers, params)
}
