// Package identity resolves person identity by comparing face embeddings
// against known employee embeddings with cosine similarity.
package identity

import (
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/sentinel-vision/sentinel-agent/internal/errors"
	"github.com/sentinel-vision/sentinel-agent/internal/logging"
)

// EmployeeEmbedding pairs an employee id with their reference face embedding.
type EmployeeEmbedding struct {
	EmployeeID string    `json:"employee_id"`
	Name       string    `json:"name,omitempty"`
	Embedding  []float32 `json:"face_embedding"`
}

// Registry is a read-mostly lookup table of employee embeddings. Lookups are
// safe while a background refresh replaces the table.
type Registry struct {
	mu        sync.RWMutex
	entries   []EmployeeEmbedding
	threshold float64
	log       *slog.Logger
}

// NewRegistry creates an empty registry with the given match threshold.
func NewRegistry(threshold float64) *Registry {
	return &Registry{
		threshold: threshold,
		log:       logging.ForService("identity"),
	}
}

// LoadFile loads employee embeddings from a JSON file, replacing the current
// table. A missing file leaves the registry empty and is not an error.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.log.Info("no employee embeddings file, starting empty", "path", path)
			return nil
		}
		return errors.New(err).
			Component("identity").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	var entries []EmployeeEmbedding
	if err := json.Unmarshal(data, &entries); err != nil {
		return errors.New(err).
			Component("identity").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}

	r.Replace(entries)
	return nil
}

// Replace swaps in a new embedding table. Entries without an embedding are
// dropped; the rest are kept sorted by employee id so match tie-breaking is
// deterministic.
func (r *Registry) Replace(entries []EmployeeEmbedding) {
	kept := make([]EmployeeEmbedding, 0, len(entries))
	for _, e := range entries {
		if e.EmployeeID != "" && len(e.Embedding) > 0 {
			kept = append(kept, e)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].EmployeeID < kept[j].EmployeeID })

	r.mu.Lock()
	r.entries = kept
	r.mu.Unlock()

	r.log.Info("employee embeddings loaded", "count", len(kept))
}

// Count returns the number of loaded embeddings.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Match returns the employee whose embedding has the highest cosine
// similarity to the candidate, provided it meets the threshold. Ties resolve
// to the lexicographically smallest employee id.
func (r *Registry) Match(embedding []float32) (employeeID string, score float64, ok bool) {
	if len(embedding) == 0 {
		return "", 0, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	best := -1.0
	for i := range r.entries {
		sim := CosineSimilarity(embedding, r.entries[i].Embedding)
		if sim > best {
			best = sim
			employeeID = r.entries[i].EmployeeID
		}
	}
	if best <= r.threshold || employeeID == "" {
		return "", best, false
	}
	return employeeID, best, true
}

// CosineSimilarity computes the cosine similarity of two vectors. Vectors of
// different lengths or zero magnitude yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
