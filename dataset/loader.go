package dataset

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/clems4ever/textclf/tokenizer"
)

var ErrShapeMismatch = errors.New("dataset: shape mismatch")

// TensorDataset pairs encoded rows with their labels.
type TensorDataset struct {
	InputIDs      [][]int
	AttentionMask [][]int
	TokenTypeIDs  [][]int
	Labels        []int
}

func NewTensorDataset(enc *tokenizer.BatchEncoding, labels []int) (*TensorDataset, error) {
	n := len(labels)
	if enc.Len() != n || len(enc.AttentionMask) != n || len(enc.TokenTypeIDs) != n {
		return nil, fmt.Errorf("%w: %d encoded rows for %d labels", ErrShapeMismatch, enc.Len(), n)
	}
	for i := range enc.InputIDs {
		if len(enc.InputIDs[i]) != len(enc.AttentionMask[i]) || len(enc.InputIDs[i]) != len(enc.TokenTypeIDs[i]) {
			return nil, fmt.Errorf("%w: row %d", ErrShapeMismatch, i)
		}
	}
	return &TensorDataset{
		InputIDs:      enc.InputIDs,
		AttentionMask: enc.AttentionMask,
		TokenTypeIDs:  enc.TokenTypeIDs,
		Labels:        labels,
	}, nil
}

func (d *TensorDataset) Len() int { return len(d.Labels) }

// Batch is a slice of rows from a TensorDataset.
type Batch struct {
	InputIDs      [][]int
	AttentionMask [][]int
	TokenTypeIDs  [][]int
	Labels        []int
}

func (b *Batch) Len() int { return len(b.Labels) }

// Loader iterates a dataset in mini-batches. With Shuffle set, every call to
// Batches draws a new order from the loader's seeded RNG.
type Loader struct {
	Dataset   *TensorDataset
	BatchSize int
	Shuffle   bool
	rng       *rand.Rand
}

func NewLoader(ds *TensorDataset, batchSize int, shuffle bool, seed int64) *Loader {
	return &Loader{
		Dataset:   ds,
		BatchSize: batchSize,
		Shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// NumBatches is ceil(len / batch size).
func (l *Loader) NumBatches() int {
	return (l.Dataset.Len() + l.BatchSize - 1) / l.BatchSize
}

func (l *Loader) Batches() []Batch {
	n := l.Dataset.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.Shuffle {
		l.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	batches := make([]Batch, 0, l.NumBatches())
	for start := 0; start < n; start += l.BatchSize {
		end := min(start+l.BatchSize, n)
		b := Batch{
			InputIDs:      make([][]int, 0, end-start),
			AttentionMask: make([][]int, 0, end-start),
			TokenTypeIDs:  make([][]int, 0, end-start),
			Labels:        make([]int, 0, end-start),
		}
		for _, idx := range order[start:end] {
			b.InputIDs = append(b.InputIDs, l.Dataset.InputIDs[idx])
			b.AttentionMask = append(b.AttentionMask, l.Dataset.AttentionMask[idx])
			b.TokenTypeIDs = append(b.TokenTypeIDs, l.Dataset.TokenTypeIDs[idx])
			b.Labels = append(b.Labels, l.Dataset.Labels[idx])
		}
		batches = append(batches, b)
	}
	return batches
}
