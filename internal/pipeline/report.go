package pipeline

import (
	"log/slog"
	"sync"
	"time"
)

// FailureKind buckets every recorded failure for the final report.
type FailureKind string

const (
	FailureDiscovery  FailureKind = "discovery"
	FailureStructural FailureKind = "structural"
	FailureValidation FailureKind = "validation"
	FailureUpload     FailureKind = "upload"
	FailureCheckpoint FailureKind = "checkpoint"
)

// FileError is one recorded failure with enough context (file, record,
// field) to fix the upstream data without re-running the pipeline.
type FileError struct {
	File     string
	Kind     FailureKind
	RecordID string
	Field    string
	Message  string
}

// Report aggregates a run. Workers append through the locked methods; the
// orchestrator reads it after Wait.
type Report struct {
	mu sync.Mutex

	StartedAt  time.Time
	FinishedAt time.Time

	FilesDiscovered int
	FilesSkipped    int
	FilesProcessed  int
	FilesFailed     int

	RecordsTotal     int64
	RecordsSucceeded int64
	RecordsFailed    int64

	Errors []FileError

	// Fatal is set when the run aborted (index lifecycle or auth failure).
	Fatal error
}

func (r *Report) addError(e FileError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, e)
}

func (r *Report) fileFailed(e FileError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FilesFailed++
	r.Errors = append(r.Errors, e)
}

func (r *Report) fileDone(total, succeeded, failed int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FilesProcessed++
	r.RecordsTotal += total
	r.RecordsSucceeded += succeeded
	r.RecordsFailed += failed
}

// ExitCode maps the run outcome onto the CLI contract: 0 clean, 1 completed
// with defects, 2 aborted.
func (r *Report) ExitCode() int {
	if r.Fatal != nil {
		return 2
	}
	if r.FilesFailed > 0 || r.RecordsFailed > 0 {
		return 1
	}
	return 0
}

// FailureCounts tallies recorded errors per kind.
func (r *Report) FailureCounts() map[FailureKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[FailureKind]int)
	for _, e := range r.Errors {
		counts[e.Kind]++
	}
	return counts
}

// LogSummary writes the run report through the structured logger, one line
// for the totals and one per failure category with a sample.
func (r *Report) LogSummary(log *slog.Logger) {
	log.Info("run complete",
		"files_discovered", r.FilesDiscovered,
		"files_processed", r.FilesProcessed,
		"files_skipped", r.FilesSkipped,
		"files_failed", r.FilesFailed,
		"records_total", r.RecordsTotal,
		"records_succeeded", r.RecordsSucceeded,
		"records_failed", r.RecordsFailed,
		"duration", r.FinishedAt.Sub(r.StartedAt).String(),
	)

	samples := make(map[FailureKind]FileError)
	for _, e := range r.Errors {
		if _, ok := samples[e.Kind]; !ok {
			samples[e.Kind] = e
		}
	}
	for kind, count := range r.FailureCounts() {
		sample := samples[kind]
		log.Warn("failures recorded",
			"kind", string(kind),
			"count", count,
			"sample_file", sample.File,
			"sample_record", sample.RecordID,
			"sample_message", sample.Message,
		)
	}

	if r.Fatal != nil {
		log.Error("run aborted", "error", r.Fatal)
	}
}
