package train

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/duet/internal/tensor"
)

// Sampler draws mini-batch row indices from a persistent shuffled
// permutation. It belongs to the producer goroutine.
//
// The permutation is reshuffled and the cursor reset when the next slice
// would reach the end of the population (cursor + batch >= rows), so the
// tail of a permutation shorter than a full batch is never used and a slice
// ending exactly at the last row also triggers a reshuffle.
type Sampler struct {
	perm       []int
	cursor     int
	batch      int
	rng        *rand.Rand
	reshuffles int
}

// NewSampler creates a sampler over rows indices. The initial permutation is
// already shuffled.
func NewSampler(rows, batch int, rng *rand.Rand) (*Sampler, error) {
	if batch <= 0 || batch > rows {
		return nil, fmt.Errorf("train: sampler batch %d over %d rows: %w", batch, rows, tensor.ErrInvalidShape)
	}
	s := &Sampler{perm: make([]int, rows), batch: batch, rng: rng}
	for i := range s.perm {
		s.perm[i] = i
	}
	s.shuffle()
	return s, nil
}

func (s *Sampler) shuffle() {
	s.rng.Shuffle(len(s.perm), func(i, j int) {
		s.perm[i], s.perm[j] = s.perm[j], s.perm[i]
	})
}

// Next returns the indices of the next mini-batch. The slice is a copy.
func (s *Sampler) Next() []int {
	if s.cursor+s.batch >= len(s.perm) {
		s.shuffle()
		s.cursor = 0
		s.reshuffles++
	}
	out := append([]int(nil), s.perm[s.cursor:s.cursor+s.batch]...)
	s.cursor += s.batch
	return out
}

// Cursor returns the position of the next slice in the permutation.
func (s *Sampler) Cursor() int { return s.cursor }

// Reshuffles returns how many times the permutation was reshuffled after
// construction.
func (s *Sampler) Reshuffles() int { return s.reshuffles }
