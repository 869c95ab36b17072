// Package evaluation walks a user through a fixed list of rating prompts,
// one integer score per aspect.
package evaluation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformedScore is returned for input that is not an integer on the rating scale.
var ErrMalformedScore = errors.New("malformed score")

type Aspect struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
}

type Score struct {
	Aspect string `json:"aspect"`
	Value  int    `json:"score"`
}

// Record holds the scores given so far, in aspect order.
type Record []Score

func (r Record) Len() int { return len(r) }

func (r Record) Get(aspectID string) (int, bool) {
	for _, s := range r {
		if s.Aspect == aspectID {
			return s.Value, true
		}
	}
	return 0, false
}

func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return append(Record(nil), r...)
}

// Sequencer is stateless: the next prompt is derived from the aspect list
// and the record alone.
type Sequencer struct {
	aspects []Aspect
	scale   int
}

func NewSequencer(aspects []Aspect, scale int) *Sequencer {
	return &Sequencer{aspects: append([]Aspect(nil), aspects...), scale: scale}
}

func (s *Sequencer) Aspects() []Aspect { return append([]Aspect(nil), s.aspects...) }

func (s *Sequencer) Len() int { return len(s.aspects) }

func (s *Sequencer) Scale() int { return s.scale }

// Next returns the first aspect, in declaration order, that the record has no score for.
func (s *Sequencer) Next(r Record) (Aspect, bool) {
	for _, a := range s.aspects {
		if _, ok := r.Get(a.ID); !ok {
			return a, true
		}
	}
	return Aspect{}, false
}

func (s *Sequencer) IsComplete(r Record) bool {
	return r.Len() == len(s.aspects)
}

// Add scores the next aspect. Scores are never assigned out of order and a
// complete record is never extended.
func (s *Sequencer) Add(r Record, value int) (Record, error) {
	a, ok := s.Next(r)
	if !ok {
		return r, errors.New("evaluation already complete")
	}
	if value < 1 || value > s.scale {
		return r, errors.Wrapf(ErrMalformedScore, "%d outside 1..%d", value, s.scale)
	}
	return append(r.Clone(), Score{Aspect: a.ID, Value: value}), nil
}

// ParseScore accepts an integer in [1, scale], surrounding whitespace allowed.
func (s *Sequencer) ParseScore(text string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedScore, "%q is not a number", text)
	}
	if v < 1 || v > s.scale {
		return 0, errors.Wrapf(ErrMalformedScore, "%d outside 1..%d", v, s.scale)
	}
	return v, nil
}

func (s *Sequencer) Prompt(a Aspect) string {
	return fmt.Sprintf("%s\nIn a scale from 1 to %d, how would you rate the %s?", a.Description, s.scale, a.ID)
}

// Choices are the reply-keyboard labels, "1" through scale.
func (s *Sequencer) Choices() []string {
	out := make([]string, s.scale)
	for i := range out {
		out[i] = strconv.Itoa(i + 1)
	}
	return out
}
