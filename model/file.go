package model

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/attnmt/attnmt/fs/record"
	"github.com/attnmt/attnmt/ml"
	"github.com/attnmt/attnmt/types/errtypes"
	"github.com/attnmt/attnmt/vocab"
)

// Kind is the first line of a model file.
type Kind string

const (
	KindLM         Kind = "nlm"
	KindEncDec     Kind = "encdec"
	KindEncAtt     Kind = "encatt"
	KindClassifier Kind = "enccls"
)

// Bilingual reports whether the file carries a source vocabulary.
func (k Kind) Bilingual() bool {
	return k != KindLM
}

type writer interface {
	Write(w io.Writer) error
}

// File is a model with its vocabularies and parameters. Model is an
// Adapter for every kind except KindClassifier, where it is a *Classifier.
type File struct {
	Kind   Kind
	Source *vocab.Vocabulary
	Target *vocab.Vocabulary
	Params *ml.Params
	Model  writer

	ParamOptions record.ParamOptions
}

// Adapter returns the model as an ensemble member.
func (f *File) Adapter() (Adapter, error) {
	a, ok := f.Model.(Adapter)
	if !ok {
		return nil, fmt.Errorf("%w: %s models cannot decode", errtypes.ErrUnsupported, f.Kind)
	}
	return a, nil
}

func (f *File) Classifier() (*Classifier, error) {
	c, ok := f.Model.(*Classifier)
	if !ok {
		return nil, fmt.Errorf("%w: %s models cannot classify", errtypes.ErrUnsupported, f.Kind)
	}
	return c, nil
}

func (f *File) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, f.Kind); err != nil {
		return err
	}

	if f.Kind.Bilingual() {
		if err := f.Source.Write(bw); err != nil {
			return err
		}
	}
	if err := f.Target.Write(bw); err != nil {
		return err
	}
	if err := f.Model.Write(bw); err != nil {
		return err
	}
	if err := record.WriteParams(bw, f.Params, f.ParamOptions); err != nil {
		return err
	}
	return bw.Flush()
}

// Read reads a model file. Parameters are registered while the component
// records are read and filled from the trailing parameter block.
func Read(r io.Reader) (*File, error) {
	rr := record.NewReader(r)

	line, err := rr.Line("model type")
	if err != nil {
		return nil, err
	}

	f := &File{Kind: Kind(strings.TrimSpace(line)), Params: ml.NewParams(nil)}
	switch f.Kind {
	case KindLM, KindEncDec, KindEncAtt, KindClassifier:
	default:
		return nil, fmt.Errorf("%w: unknown model type %q", errtypes.ErrVersionMismatch, line)
	}

	if f.Kind.Bilingual() {
		if f.Source, err = vocab.Read(rr); err != nil {
			return nil, err
		}
	}
	if f.Target, err = vocab.Read(rr); err != nil {
		return nil, err
	}

	switch f.Kind {
	case KindLM:
		f.Model, err = ReadLM(rr, f.Params)
	case KindEncDec:
		f.Model, err = ReadEncoderDecoder(rr, f.Params)
	case KindEncAtt:
		f.Model, err = ReadEncoderAttentional(rr, f.Params)
	case KindClassifier:
		f.Model, err = ReadClassifier(rr, f.Params)
	}
	if err != nil {
		return nil, err
	}

	if f.ParamOptions, err = record.ReadParams(rr, f.Params); err != nil {
		return nil, err
	}
	return f, nil
}

func Load(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, &errtypes.ModelLoadError{Model: path, Err: err}
	}
	defer fh.Close()

	f, err := Read(fh)
	if err != nil {
		return nil, &errtypes.ModelLoadError{Model: path, Err: err}
	}
	return f, nil
}

func Save(path string, f *File) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := f.Write(fh); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}
