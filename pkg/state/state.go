// Package state persists the small record that carries a job from phase 1
// (decide) to phase 2 (finish). The two phases run as separate processes, so
// the record lives in a file between them.
package state

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xrsl/skipper/pkg/utils"
)

// Record is the cross-phase state of one job execution.
type Record struct {
	// RunID scopes the record to one job execution; a record written by a
	// different run is treated as absent.
	RunID string `yaml:"run_id,omitempty"`
	// IsPost is set once phase 1 has run.
	IsPost bool `yaml:"is_post"`
	// TracerPID is the observer process id, present only while a tracer is active.
	TracerPID     int       `yaml:"tracer_pid,omitempty"`
	TracerBackend string    `yaml:"tracer_backend,omitempty"`
	TracerStarted time.Time `yaml:"tracer_started,omitempty"`
}

// HasTracer reports whether a live tracer handle is recorded.
func (r *Record) HasTracer() bool {
	return r != nil && r.TracerPID > 0
}

// Store loads and saves the record. Load returns (nil, nil) when nothing has
// been persisted for the store's run.
type Store interface {
	Load() (*Record, error)
	Save(r *Record) error
}

// FileStore keeps the record as YAML in a single file.
type FileStore struct {
	path  string
	runID string
}

// NewFileStore returns a store at path scoped to runID. An empty runID
// accepts any record.
func NewFileStore(path, runID string) *FileStore {
	return &FileStore{path: path, runID: runID}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse state %s: %w", s.path, err)
	}
	if s.runID != "" && r.RunID != s.runID {
		return nil, nil
	}
	return &r, nil
}

func (s *FileStore) Save(r *Record) error {
	if r.RunID == "" {
		r.RunID = s.runID
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := utils.WriteFile(s.path, data); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu  sync.Mutex
	rec *Record
}

func (s *MemoryStore) Load() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, nil
	}
	cp := *s.rec
	return &cp, nil
}

func (s *MemoryStore) Save(r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rec = &cp
	return nil
}
