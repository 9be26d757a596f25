// Package descriptor holds the face embedding type and the distance math used
// for enrollment matching. Descriptors are produced by the external
// recognition model; this package only compares them.
package descriptor

import (
	"errors"
	"fmt"
	"math"
)

// Dim is the embedding length produced by the recognition model.
const Dim = 128

// MatchThreshold is the maximum Euclidean distance between a probe and a
// stored descriptor that still counts as the same person.
const MatchThreshold = 0.55

// Descriptor is a fixed-length face embedding.
type Descriptor []float32

var (
	ErrBadDimension = errors.New("descriptor has wrong dimension")
	ErrNotFinite    = errors.New("descriptor contains non-finite values")
)

// Validate checks that the descriptor is usable for matching.
func (d Descriptor) Validate() error {
	if len(d) != Dim {
		return fmt.Errorf("%w: got %d, want %d", ErrBadDimension, len(d), Dim)
	}
	for _, v := range d {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrNotFinite
		}
	}
	return nil
}

// ValidateSet validates a non-empty ordered sequence of descriptors.
func ValidateSet(set []Descriptor) error {
	if len(set) == 0 {
		return errors.New("descriptor set is empty")
	}
	for i, d := range set {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("descriptor %d: %w", i, err)
		}
	}
	return nil
}

// EuclideanDistance computes the L2 distance between two descriptors.
// Mismatched or empty inputs yield +Inf so they can never match.
func EuclideanDistance(a, b Descriptor) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// CosineDistance computes 1 - cosine similarity between two descriptors.
// Returns 2 (maximum distance) for invalid input or zero vectors.
func CosineDistance(a, b Descriptor) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return 1 - similarity
}

// MinEuclidean returns the smallest Euclidean distance between the probe and
// any descriptor in the stored set. Empty sets yield +Inf.
func MinEuclidean(probe Descriptor, stored []Descriptor) float64 {
	best := math.Inf(1)
	for _, s := range stored {
		if d := EuclideanDistance(probe, s); d < best {
			best = d
		}
	}
	return best
}

// Matches reports whether the probe is within MatchThreshold of any stored
// descriptor.
func Matches(probe Descriptor, stored []Descriptor) bool {
	return MinEuclidean(probe, stored) <= MatchThreshold
}
