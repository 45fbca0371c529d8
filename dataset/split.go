package dataset

import (
	"fmt"
	"math"
	"math/rand"
)

const (
	DefaultSeed          = 42
	DefaultTestFraction  = 0.4
	DefaultValidFraction = 0.5
)

// Splits are disjoint partitions of one example set.
type Splits struct {
	Train      []Example
	Validation []Example
	Test       []Example
}

// SplitOptions describes the two-step hold-out: first HoldOut of the rows
// is set aside, then TestFraction of the held-out rows become the test
// split and the rest the validation split.
type SplitOptions struct {
	Seed         int64
	HoldOut      float64
	TestFraction float64
}

func DefaultSplitOptions() SplitOptions {
	return SplitOptions{
		Seed:         DefaultSeed,
		HoldOut:      DefaultTestFraction,
		TestFraction: DefaultValidFraction,
	}
}

// Split shuffles examples with a seeded permutation and partitions them
// 60/20/20 with the default options. Held-out sizes round up.
func Split(examples []Example, opts SplitOptions) (Splits, error) {
	if opts.HoldOut <= 0 || opts.HoldOut >= 1 || opts.TestFraction <= 0 || opts.TestFraction >= 1 {
		return Splits{}, fmt.Errorf("split fractions must be in (0,1), got %v and %v", opts.HoldOut, opts.TestFraction)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	train, held := holdOut(examples, opts.HoldOut, rng)
	val, test := holdOut(held, opts.TestFraction, rng)
	return Splits{Train: train, Validation: val, Test: test}, nil
}

func holdOut(examples []Example, fraction float64, rng *rand.Rand) (kept, held []Example) {
	n := len(examples)
	nHeld := int(math.Ceil(fraction * float64(n)))
	perm := rng.Perm(n)

	kept = make([]Example, 0, n-nHeld)
	held = make([]Example, 0, nHeld)
	for i, idx := range perm {
		if i < nHeld {
			held = append(held, examples[idx])
		} else {
			kept = append(kept, examples[idx])
		}
	}
	return kept, held
}
