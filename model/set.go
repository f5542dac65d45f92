package model

import (
	"fmt"

	"github.com/attnmt/attnmt/types/errtypes"
	"github.com/attnmt/attnmt/vocab"
)

// Set is the model files of one ensemble. Every member shares the target
// vocabulary; the source vocabulary comes from the first bilingual member.
type Set struct {
	Paths  []string
	Files  []*File
	Source *vocab.Vocabulary
	Target *vocab.Vocabulary
}

func LoadSet(paths ...string) (*Set, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no model files", errtypes.ErrInvalidSpec)
	}

	s := &Set{Paths: paths}
	for _, path := range paths {
		f, err := Load(path)
		if err != nil {
			return nil, err
		}
		s.Files = append(s.Files, f)
	}

	s.Target = s.Files[0].Target
	for i, f := range s.Files {
		if f.Target.Size() != s.Target.Size() {
			return nil, fmt.Errorf("%w: %s has %d target words, %s has %d", errtypes.ErrShapeMismatch, paths[i], f.Target.Size(), paths[0], s.Target.Size())
		}
		if s.Source == nil && f.Kind.Bilingual() {
			s.Source = f.Source
		}
	}
	return s, nil
}

func (s *Set) Adapters() ([]Adapter, error) {
	adapters := make([]Adapter, len(s.Files))
	for i, f := range s.Files {
		a, err := f.Adapter()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Paths[i], err)
		}
		adapters[i] = a
	}
	return adapters, nil
}

// ParseSource reads a source sentence, which ends with the end symbol.
func (s *Set) ParseSource(line string) vocab.Sentence {
	if s.Source == nil {
		return s.Target.Parse(line, true)
	}
	return s.Source.Parse(line, true)
}

func (s *Set) ParseTarget(line string) vocab.Sentence {
	return s.Target.Parse(line, false)
}
