package mocks

import (
	"fmt"
	"sync"

	"github.com/mcoot/playhub/internal/dependencies/random"
)

// MockRandom is a mock implementation of Random for testing
type MockRandom struct {
	mu sync.Mutex

	// IntnResults is a queue of results to return from Intn
	IntnResults []int
	intnIndex   int

	// Uint32Results is a queue of results to return from Uint32
	Uint32Results []uint32
	uint32Index   int

	// StringResults is a queue of results to return from String
	StringResults []string
	stringIndex   int

	// IDResults is a queue of results to return from ID. Once exhausted,
	// ID returns sequential ids ("id-1", "id-2", ...).
	IDResults []string
	idIndex   int
	idSeq     int
}

// Ensure MockRandom implements Random
var _ random.Random = (*MockRandom)(nil)

// NewMockRandom creates a new MockRandom
func NewMockRandom() *MockRandom {
	return &MockRandom{}
}

// Intn returns the next queued result, or 0 if none remaining
func (r *MockRandom) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.intnIndex >= len(r.IntnResults) {
		return 0
	}
	result := r.IntnResults[r.intnIndex]
	r.intnIndex++
	return result
}

// Uint32 returns the next queued result, or 0 if none remaining
func (r *MockRandom) Uint32() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.uint32Index >= len(r.Uint32Results) {
		return 0
	}
	result := r.Uint32Results[r.uint32Index]
	r.uint32Index++
	return result
}

// String returns the next queued result, or empty string if none remaining
func (r *MockRandom) String(length int, alphabet string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stringIndex >= len(r.StringResults) {
		return ""
	}
	result := r.StringResults[r.stringIndex]
	r.stringIndex++
	return result
}

// ID returns the next queued id, falling back to a sequence
func (r *MockRandom) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idIndex < len(r.IDResults) {
		result := r.IDResults[r.idIndex]
		r.idIndex++
		return result
	}
	r.idSeq++
	return fmt.Sprintf("id-%d", r.idSeq)
}

// QueueIntn adds values to the Intn result queue
func (r *MockRandom) QueueIntn(values ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.IntnResults = append(r.IntnResults, values...)
}

// QueueUint32 adds values to the Uint32 result queue
func (r *MockRandom) QueueUint32(values ...uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Uint32Results = append(r.Uint32Results, values...)
}

// QueueString adds values to the String result queue
func (r *MockRandom) QueueString(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StringResults = append(r.StringResults, values...)
}

// QueueID adds values to the ID result queue
func (r *MockRandom) QueueID(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.IDResults = append(r.IDResults, values...)
}

// Reset clears all queued results
func (r *MockRandom) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.IntnResults = nil
	r.intnIndex = 0
	r.Uint32Results = nil
	r.uint32Index = 0
	r.StringResults = nil
	r.stringIndex = 0
	r.IDResults = nil
	r.idIndex = 0
	r.idSeq = 0
}
