// Package journal records completed stages to .state.json so an
// interrupted run can resume without re-invoking tools.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrConfigMismatch refuses a resume whose target, scope, or stage set
// changed since the journal was written.
var ErrConfigMismatch = errors.New("journal config hash mismatch")

// StageRecord is one terminal stage outcome.
type StageRecord struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	Outputs    []string  `json:"outputs,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
	Duration   string    `json:"duration"`
}

// Journal is the on-disk resume state. The pipeline engine is the single
// writer; Append serializes internally.
type Journal struct {
	RunID      string        `json:"run_id"`
	ConfigHash string        `json:"config_hash"`
	Stages     []StageRecord `json:"stages"`

	mu   sync.Mutex `json:"-"`
	path string     `json:"-"`
}

// New creates a journal that persists to path.
func New(path, runID, configHash string) *Journal {
	return &Journal{RunID: runID, ConfigHash: configHash, path: path}
}

// Load reads a journal and verifies the config hash. Records left in a
// running state by a crash are dropped so those stages re-execute.
func Load(path, configHash string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("journal: parse %s: %w", path, err)
	}
	if j.ConfigHash != configHash {
		return nil, fmt.Errorf("recorded %s, current %s: %w", j.ConfigHash, configHash, ErrConfigMismatch)
	}
	kept := j.Stages[:0]
	for _, r := range j.Stages {
		if r.State != "running" && r.State != "pending" {
			kept = append(kept, r)
		}
	}
	j.Stages = kept
	j.path = path
	return &j, nil
}

// Records returns a snapshot of the recorded stage outcomes.
func (j *Journal) Records() []StageRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]StageRecord(nil), j.Stages...)
}

// Lookup returns the recorded terminal outcome for a stage, if any.
func (j *Journal) Lookup(name string) (StageRecord, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, r := range j.Stages {
		if r.Name == name {
			return r, true
		}
	}
	return StageRecord{}, false
}

// Append records a terminal stage outcome and persists atomically.
func (j *Journal) Append(rec StageRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, r := range j.Stages {
		if r.Name == rec.Name {
			j.Stages[i] = rec
			return j.flushLocked()
		}
	}
	j.Stages = append(j.Stages, rec)
	return j.flushLocked()
}

func (j *Journal) flushLocked() error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(j.path), ".state.tmp*")
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("journal: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("journal: close: %w", err)
	}
	if err := os.Rename(tmpName, j.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("journal: rename: %w", err)
	}
	return nil
}
