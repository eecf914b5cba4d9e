package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/llmflow/graphrag/pkg/domain"
)

// Status is the lifecycle state of a dataset build.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusBuilding  Status = "building"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Progress is the observable state of one dataset build. Warnings carry
// per-chunk failures that did not stop the build.
type Progress struct {
	DatasetID              string    `json:"dataset_id"`
	Status                 Status    `json:"status"`
	TotalDocuments         int       `json:"total_documents"`
	CompletedDocuments     int       `json:"completed_documents"`
	TotalSegments          int       `json:"total_segments"`
	CompletedSegments      int       `json:"completed_segments"`
	SkippedSegments        int       `json:"skipped_segments"`
	EntitiesExtracted      int       `json:"entities_extracted"`
	RelationshipsExtracted int       `json:"relationships_extracted"`
	CurrentDocument        string    `json:"current_document,omitempty"`
	ResumeMode             bool      `json:"resume_mode"`
	HiFidelityMode         bool      `json:"hi_fidelity_mode"`
	Warnings               []string  `json:"warnings,omitempty"`
	Error                  string    `json:"error,omitempty"`
	StartedAt              time.Time `json:"started_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Registry tracks build progress per dataset and enforces the
// single-writer-per-dataset rule.
type Registry struct {
	mu        sync.RWMutex
	byDataset map[string]*Progress
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byDataset: make(map[string]*Progress)}
}

// Start claims the dataset for a new build. A build already running for the
// same dataset yields ErrAlreadyRunning.
func (r *Registry) Start(datasetID string, resume, hiFidelity bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.byDataset[datasetID]; ok && p.Status == StatusBuilding {
		return fmt.Errorf("%w: build for dataset %s", domain.ErrAlreadyRunning, datasetID)
	}
	now := time.Now()
	r.byDataset[datasetID] = &Progress{
		DatasetID:      datasetID,
		Status:         StatusBuilding,
		ResumeMode:     resume,
		HiFidelityMode: hiFidelity,
		StartedAt:      now,
		UpdatedAt:      now,
	}
	return nil
}

// Update mutates the dataset's progress under the registry lock.
func (r *Registry) Update(datasetID string, fn func(*Progress)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byDataset[datasetID]
	if !ok {
		return
	}
	fn(p)
	p.UpdatedAt = time.Now()
}

// Finish marks the build completed, or errored when err is non-nil.
func (r *Registry) Finish(datasetID string, err error) {
	r.Update(datasetID, func(p *Progress) {
		if err != nil {
			p.Status = StatusError
			p.Error = err.Error()
		} else {
			p.Status = StatusCompleted
		}
		p.CurrentDocument = ""
	})
}

// Get returns a snapshot of the dataset's progress. A dataset that was never
// built reports an idle record.
func (r *Registry) Get(datasetID string) (Progress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byDataset[datasetID]
	if !ok {
		return Progress{DatasetID: datasetID, Status: StatusIdle}, false
	}
	snapshot := *p
	snapshot.Warnings = append([]string(nil), p.Warnings...)
	return snapshot, true
}

// Clear drops a finished build record. Running builds cannot be cleared.
func (r *Registry) Clear(datasetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.byDataset[datasetID]; ok && p.Status == StatusBuilding {
		return fmt.Errorf("%w: build for dataset %s", domain.ErrAlreadyRunning, datasetID)
	}
	delete(r.byDataset, datasetID)
	return nil
}

// All returns snapshots of every tracked build.
func (r *Registry) All() []Progress {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Progress, 0, len(r.byDataset))
	for _, p := range r.byDataset {
		snapshot := *p
		snapshot.Warnings = append([]string(nil), p.Warnings...)
		out = append(out, snapshot)
	}
	return out
}
