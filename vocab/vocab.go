// Package vocab maps words to token ids.
package vocab

import (
	"fmt"
	"io"
	"strings"

	"github.com/attnmt/attnmt/fs/record"
)

const (
	// StartSymbol is id 0. It is the history before the first word and also
	// marks the end of a sentence.
	StartSymbol = "<s>"
	UnkSymbol   = "<unk>"

	versionTag = "vocab_001"
)

// Sentence is an ordered sequence of token ids.
type Sentence []int32

// Clone returns a copy that can be appended to without aliasing.
func (s Sentence) Clone() Sentence {
	out := make(Sentence, len(s), len(s)+1)
	copy(out, s)
	return out
}

type Vocabulary struct {
	words  []string
	ids    map[string]int32
	frozen bool
	unk    int32
}

// New returns a vocabulary holding only the start symbol.
func New() *Vocabulary {
	v := &Vocabulary{ids: make(map[string]int32), unk: -1}
	v.Convert(StartSymbol)
	return v
}

// Convert returns the id of word, adding it unless the vocabulary is frozen.
// Unknown words in a frozen vocabulary map to the unknown id, which is -1
// until SetUnk is called.
func (v *Vocabulary) Convert(word string) int32 {
	if id, ok := v.ids[word]; ok {
		return id
	}
	if v.frozen {
		return v.unk
	}

	id := int32(len(v.words))
	v.words = append(v.words, word)
	v.ids[word] = id
	return id
}

func (v *Vocabulary) Freeze() {
	v.frozen = true
}

func (v *Vocabulary) Frozen() bool {
	return v.frozen
}

// SetUnk registers word as the unknown symbol, adding it if needed.
func (v *Vocabulary) SetUnk(word string) {
	frozen := v.frozen
	v.frozen = false
	v.unk = v.Convert(word)
	v.frozen = frozen
}

func (v *Vocabulary) Unk() int32 {
	return v.unk
}

func (v *Vocabulary) Size() int {
	return len(v.words)
}

func (v *Vocabulary) Word(id int32) string {
	if id < 0 || int(id) >= len(v.words) {
		return UnkSymbol
	}
	return v.words[id]
}

// Parse splits a whitespace separated line into ids. When addEnd is set the
// sentence ends with the start symbol.
func (v *Vocabulary) Parse(line string, addEnd bool) Sentence {
	fields := strings.Fields(line)
	sent := make(Sentence, 0, len(fields)+1)
	for _, f := range fields {
		sent = append(sent, v.Convert(f))
	}
	if addEnd {
		sent = append(sent, 0)
	}
	return sent
}

func (v *Vocabulary) String(sent Sentence) string {
	words := make([]string, len(sent))
	for i, id := range sent {
		words[i] = v.Word(id)
	}
	return strings.Join(words, " ")
}

func (v *Vocabulary) Write(w io.Writer) error {
	if err := record.Write(w, versionTag, len(v.words), v.unk); err != nil {
		return err
	}
	for _, word := range v.words {
		if _, err := fmt.Fprintln(w, word); err != nil {
			return err
		}
	}
	return nil
}

// Read reads a vocabulary record. The result is frozen.
func Read(r *record.Reader) (*Vocabulary, error) {
	fields, err := r.Record(versionTag, "vocabulary")
	if err != nil {
		return nil, err
	}

	f := record.NewFields("vocabulary", fields)
	size, unk := f.Dim(), f.Int()
	if err := f.Err(); err != nil {
		return nil, err
	}

	v := &Vocabulary{ids: make(map[string]int32, size), unk: -1}
	for range size {
		word, err := r.Line("vocabulary entry")
		if err != nil {
			return nil, err
		}
		v.Convert(word)
	}
	if unk >= size {
		return nil, fmt.Errorf("vocabulary unknown id %d out of range for %d words", unk, size)
	}
	v.unk = int32(unk)
	v.Freeze()
	return v, nil
}
