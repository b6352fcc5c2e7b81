// Package ctc implements greedy (best path) decoding for acoustic models
// trained with Connectionist Temporal Classification.
//
// A model emits one score vector per timestep. Greedy decoding takes the
// highest scoring class at every step, merges consecutive repeats and drops
// the blank class. The surviving ids are mapped through a Vocabulary, where
// the word delimiter token becomes a space.
package ctc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
)

const (
	DefaultBlank     = "<pad>"
	DefaultDelimiter = "|"
)

// Vocabulary maps class ids to tokens.
type Vocabulary struct {
	tokens    []string
	blank     int
	delimiter string
	special   map[int]bool
}

// NewVocabulary builds a vocabulary from a token->id table in the layout of
// a Hugging Face vocab.json file.
func NewVocabulary(table map[string]int) (*Vocabulary, error) {
	if len(table) == 0 {
		return nil, errors.New("empty vocabulary")
	}

	size := 0
	for _, id := range table {
		if id < 0 {
			return nil, fmt.Errorf("negative token id %d", id)
		}
		size = max(size, id+1)
	}

	v := &Vocabulary{
		tokens:    make([]string, size),
		blank:     -1,
		delimiter: DefaultDelimiter,
		special:   make(map[int]bool),
	}
	for tok, id := range table {
		if v.tokens[id] != "" {
			return nil, fmt.Errorf("token id %d assigned twice (%q, %q)", id, v.tokens[id], tok)
		}
		v.tokens[id] = tok
		if isSpecial(tok) {
			v.special[id] = true
		}
	}

	blank, ok := table[DefaultBlank]
	if !ok {
		return nil, fmt.Errorf("vocabulary has no blank token %q", DefaultBlank)
	}
	v.blank = blank
	return v, nil
}

// LoadVocabulary reads a vocab.json file.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	var table map[string]int
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse vocabulary %s: %w", path, err)
	}
	return NewVocabulary(table)
}

// DefaultVocabulary is the character set of facebook/wav2vec2-base-960h.
func DefaultVocabulary() *Vocabulary {
	table := map[string]int{
		"<pad>": 0, "<s>": 1, "</s>": 2, "<unk>": 3, "|": 4,
		"E": 5, "T": 6, "A": 7, "O": 8, "N": 9, "I": 10, "H": 11, "S": 12,
		"R": 13, "D": 14, "L": 15, "U": 16, "M": 17, "W": 18, "C": 19, "F": 20,
		"G": 21, "Y": 22, "P": 23, "B": 24, "V": 25, "K": 26, "'": 27, "X": 28,
		"J": 29, "Q": 30, "Z": 31,
	}
	v, err := NewVocabulary(table)
	if err != nil {
		panic(err)
	}
	return v
}

func isSpecial(tok string) bool {
	return len(tok) > 2 && strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">")
}

func (v *Vocabulary) Size() int  { return len(v.tokens) }
func (v *Vocabulary) Blank() int { return v.blank }

// Decode collapses repeated ids, removes blanks and special tokens, and joins
// the remaining tokens into text.
func (v *Vocabulary) Decode(ids []int) string {
	var (
		sb   strings.Builder
		prev = -1
	)
	for _, id := range ids {
		if id == prev {
			continue
		}
		prev = id
		if id == v.blank || id < 0 || id >= len(v.tokens) || v.special[id] {
			continue
		}
		tok := v.tokens[id]
		if tok == v.delimiter {
			tok = " "
		}
		sb.WriteString(tok)
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// Argmax returns the index of the highest score at every timestep.
func Argmax(logits [][]float32) []int {
	ids := make([]int, len(logits))
	for t, row := range logits {
		best := 0
		for c := 1; c < len(row); c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		ids[t] = best
	}
	return ids
}

// GreedyDecode runs best path decoding over per-timestep class scores.
func GreedyDecode(v *Vocabulary, logits [][]float32) (string, error) {
	for t, row := range logits {
		if len(row) != v.Size() {
			return "", fmt.Errorf("timestep %d has %d classes, vocabulary has %d", t, len(row), v.Size())
		}
	}
	return v.Decode(Argmax(logits)), nil
}

// Normalize returns a zero-mean, unit-variance copy of x, the input
// normalization wav2vec2 feature extractors apply before the forward pass.
func Normalize(x []float32) []float32 {
	out := make([]float32, len(x))
	if len(x) == 0 {
		return out
	}

	var mean float64
	for _, s := range x {
		mean += float64(s)
	}
	mean /= float64(len(x))

	var variance float64
	for _, s := range x {
		d := float64(s) - mean
		variance += d * d
	}
	variance /= float64(len(x))

	std := math.Sqrt(variance + 1e-7)
	for i, s := range x {
		out[i] = float32((float64(s) - mean) / std)
	}
	return out
}
