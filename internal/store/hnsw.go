package store

import (
	"context"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/uuid"

	"github.com/unilearn/faceid/internal/descriptor"
)

// hnswMaxNeighbors is the M parameter of the graph.
const hnswMaxNeighbors = 16

// FaceIndex is an in-memory HNSW index over enrollment samples, used by face
// login to find the closest enrolled user without scanning every descriptor.
// Node keys are sample IDs; a side map resolves them to users so stale nodes
// left behind by re-enrollment drop out of results.
type FaceIndex struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[int64]
	sampleUser map[int64]uuid.UUID
}

// NewFaceIndex creates an empty index.
func NewFaceIndex() *FaceIndex {
	return &FaceIndex{sampleUser: make(map[int64]uuid.UUID)}
}

// The graph searches on cosine distance; Nearest re-ranks the returned
// neighbors with the exact Euclidean metric the match threshold is defined in.
func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Rebuild replaces the index contents with the given samples.
func (f *FaceIndex) Rebuild(samples []EnrollmentSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(samples) == 0 {
		f.graph = nil
		f.sampleUser = make(map[int64]uuid.UUID)
		return nil
	}

	g := newGraph()
	f.sampleUser = make(map[int64]uuid.UUID, len(samples))
	for i := range samples {
		s := &samples[i]
		if len(s.Descriptor) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(s.ID, []float32(s.Descriptor)))
		f.sampleUser[s.ID] = s.UserID
	}
	f.graph = g
	return nil
}

// AddSamples inserts freshly stored samples without a full rebuild.
func (f *FaceIndex) AddSamples(samples []EnrollmentSample) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.graph == nil {
		f.graph = newGraph()
	}
	for i := range samples {
		s := &samples[i]
		if len(s.Descriptor) == 0 {
			continue
		}
		f.graph.Add(hnsw.MakeNode(s.ID, []float32(s.Descriptor)))
		f.sampleUser[s.ID] = s.UserID
	}
}

// RemoveUser drops a user's samples from lookup. The graph nodes stay behind
// until the next rebuild; the lookup map filters them out of results.
func (f *FaceIndex) RemoveUser(userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, uid := range f.sampleUser {
		if uid == userID {
			delete(f.sampleUser, id)
		}
	}
}

// Count returns the number of live samples.
func (f *FaceIndex) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sampleUser)
}

// Candidate is one face login match.
type Candidate struct {
	UserID   uuid.UUID
	Distance float64
}

// Nearest returns the closest enrolled user to the query descriptor, or
// ErrNotFound when the index holds nothing usable.
func (f *FaceIndex) Nearest(ctx context.Context, query descriptor.Descriptor, k int) (Candidate, error) {
	if err := query.Validate(); err != nil {
		return Candidate{}, err
	}
	if k <= 0 {
		k = 5
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.graph == nil || len(f.sampleUser) == 0 {
		return Candidate{}, ErrNotFound
	}

	neighbors := f.graph.Search([]float32(query), k)

	best := Candidate{Distance: -1}
	for _, n := range neighbors {
		uid, ok := f.sampleUser[n.Key]
		if !ok {
			// Stale node from a deleted enrollment.
			continue
		}
		d := descriptor.EuclideanDistance(query, descriptor.Descriptor(n.Value))
		if best.Distance < 0 || d < best.Distance {
			best = Candidate{UserID: uid, Distance: d}
		}
	}
	if best.Distance < 0 {
		return Candidate{}, ErrNotFound
	}
	return best, nil
}
