// Package checkpoint persists which source files have been fully processed,
// plus cumulative counters. It is the only state that outlives one run.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const formatVersion = 1

// Counters accumulate across runs. They are advanced only when a file's
// entire batch sequence has a terminal outcome.
type Counters struct {
	Documents int64 `json:"documents"`
	Records   int64 `json:"records"`
	Failures  int64 `json:"failures"`
}

// FileOutcome is what one fully-processed file contributes to the counters.
type FileOutcome struct {
	Records  int64
	Failures int64
}

type fileState struct {
	Version        int      `json:"version"`
	ProcessedFiles []string `json:"processed_files"`
	Counters       Counters `json:"counters"`
}

// Store is the durable checkpoint. All mutation goes through a single mutex
// so concurrent workers cannot interleave writes; every save is
// write-to-temp-then-rename so a crash never leaves a torn file.
type Store struct {
	mu        sync.Mutex
	path      string
	processed map[string]struct{}
	counters  Counters

	startedAt  time.Time
	totalFiles int

	// progress of this run only; files loaded from a previous run's
	// checkpoint must not skew the derived rate and ETA
	runFiles   int
	runRecords int64
}

// Open loads the checkpoint at path, or starts an empty one when the file
// does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{
		path:      path,
		processed: make(map[string]struct{}),
		startedAt: time.Now(),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	if st.Version != formatVersion {
		return nil, fmt.Errorf("checkpoint %s: unsupported version %d", path, st.Version)
	}

	for _, f := range st.ProcessedFiles {
		s.processed[f] = struct{}{}
	}
	s.counters = st.Counters
	return s, nil
}

// IsProcessed reports whether fileID already reached a terminal outcome in a
// previous run.
func (s *Store) IsProcessed(fileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[fileID]
	return ok
}

// Advance marks fileID processed, folds its outcome into the counters, and
// persists atomically. Calling it twice for the same file is a no-op on the
// processed set but would double-count, so the orchestrator guards it with
// IsProcessed.
func (s *Store) Advance(fileID string, outcome FileOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.processed[fileID]; done {
		return nil
	}
	s.processed[fileID] = struct{}{}
	s.counters.Documents++
	s.counters.Records += outcome.Records
	s.counters.Failures += outcome.Failures
	s.runFiles++
	s.runRecords += outcome.Records

	return s.save()
}

// save must be called with the mutex held.
func (s *Store) save() error {
	files := make([]string, 0, len(s.processed))
	for f := range s.processed {
		files = append(files, f)
	}
	sort.Strings(files)

	st := fileState{
		Version:        formatVersion,
		ProcessedFiles: files,
		Counters:       s.counters,
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// SetTotalFiles tells the store how many files this run discovered, for the
// derived metrics only.
func (s *Store) SetTotalFiles(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalFiles = n
}

// Counters returns a copy of the cumulative counters.
func (s *Store) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Metrics is a derived, read-only progress view. It is recomputed on demand
// and never authoritative.
type Metrics struct {
	FilesDone  int
	FilesTotal int
	Records    int64
	Failures   int64
	Elapsed    time.Duration
	RecordsSec float64
	ETA        time.Duration
}

// Snapshot computes current progress from the counters and wall clock.
func (s *Store) Snapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := time.Since(s.startedAt)
	m := Metrics{
		FilesDone:  len(s.processed),
		FilesTotal: s.totalFiles,
		Records:    s.counters.Records,
		Failures:   s.counters.Failures,
		Elapsed:    elapsed,
	}
	if elapsed > 0 {
		m.RecordsSec = float64(s.runRecords) / elapsed.Seconds()
	}
	if s.runFiles > 0 && m.FilesTotal > m.FilesDone {
		perFile := elapsed / time.Duration(s.runFiles)
		m.ETA = perFile * time.Duration(m.FilesTotal-m.FilesDone)
	}
	return m
}
