package stream

import (
	"math/rand/v2"
	"slices"

	"conduit/internal/job"
	"conduit/internal/value"
)

// Distinct drops rows equal to a row emitted earlier. Memory grows with the
// number of distinct rows, not with the number of rows read.
func Distinct(source Stream) Stream {
	return NewTransformStream(source, &distinctTransformer{})
}

type distinctTransformer struct {
	seen tupleSet
}

func (t *distinctTransformer) Prepare(_ *job.Job, source value.Columns) (value.Columns, error) {
	t.seen = tupleSet{}
	return source, nil
}

func (t *distinctTransformer) Transform(_ *job.Job, rows []value.Tuple, _ bool) ([]value.Tuple, bool, error) {
	out := rows[:0:0]
	for _, r := range rows {
		if t.seen.add(r) {
			out = append(out, r)
		}
	}
	return out, false, nil
}

func (t *distinctTransformer) Clone() Transformer { return &distinctTransformer{} }

// tupleSet stores tuples by hash, with a collision list per bucket.
type tupleSet map[uint64][]value.Tuple

// add inserts r and reports whether it was new.
func (s tupleSet) add(r value.Tuple) bool {
	h := r.Hash()
	for _, o := range s[h] {
		if value.TupleEqual(o, r) {
			return false
		}
	}
	s[h] = append(s[h], r)
	return true
}

// Random emits a uniform sample of at most n rows using reservoir sampling,
// so only n rows are ever buffered. Output follows source order. Clones draw
// the same sample from the same input.
func Random(source Stream, n int) Stream {
	return NewTransformStream(source, newRandomTransformer(n, rand.Uint64()))
}

type randomTransformer struct {
	n    int
	seed uint64

	rng       *rand.Rand
	seen      int
	reservoir []reservoirItem
}

type reservoirItem struct {
	pos int
	row value.Tuple
}

func newRandomTransformer(n int, seed uint64) *randomTransformer {
	return &randomTransformer{n: n, seed: seed, rng: rand.New(rand.NewPCG(seed, ^seed))}
}

func (t *randomTransformer) Prepare(_ *job.Job, source value.Columns) (value.Columns, error) {
	return source, nil
}

func (t *randomTransformer) Transform(_ *job.Job, rows []value.Tuple, final bool) ([]value.Tuple, bool, error) {
	if t.n <= 0 {
		return nil, true, nil
	}
	for _, r := range rows {
		if len(t.reservoir) < t.n {
			t.reservoir = append(t.reservoir, reservoirItem{t.seen, r})
		} else if k := t.rng.IntN(t.seen + 1); k < t.n {
			t.reservoir[k] = reservoirItem{t.seen, r}
		}
		t.seen++
	}
	if !final {
		return nil, false, nil
	}
	slices.SortFunc(t.reservoir, func(a, b reservoirItem) int { return a.pos - b.pos })
	out := make([]value.Tuple, len(t.reservoir))
	for i, it := range t.reservoir {
		out[i] = it.row
	}
	return out, true, nil
}

func (t *randomTransformer) Clone() Transformer { return newRandomTransformer(t.n, t.seed) }
