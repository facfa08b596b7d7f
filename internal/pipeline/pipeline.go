// Package pipeline orchestrates a run: discover source files, flatten and
// validate each, upload the valid records in batches, and checkpoint files
// whose batches all reached a terminal outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"docindex/internal/backend"
	"docindex/internal/checkpoint"
	"docindex/internal/flatten"
	"docindex/internal/logger"
	"docindex/internal/schema"
	"docindex/internal/uploader"
)

type Options struct {
	Input       string
	Pattern     string
	Recursive   bool
	BatchSize   int
	Concurrency int
	DryRun      bool
}

type Pipeline struct {
	backend    backend.Backend
	schema     *schema.Schema
	uploader   *uploader.Uploader
	checkpoint *checkpoint.Store
	opts       Options
	log        *slog.Logger
}

func New(b backend.Backend, sch *schema.Schema, up *uploader.Uploader, cp *checkpoint.Store, opts Options, log *slog.Logger) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Pipeline{
		backend:    b,
		schema:     sch,
		uploader:   up,
		checkpoint: cp,
		opts:       opts,
		log:        log,
	}
}

// Run executes the whole pipeline and always returns a report; check
// Report.Fatal and Report.ExitCode for the outcome. Files are processed by a
// bounded worker pool and are independent units: one bad file never aborts
// the run. Only an index lifecycle failure up front or an auth failure
// during upload is fatal.
func (p *Pipeline) Run(ctx context.Context) *Report {
	report := &Report{StartedAt: time.Now()}
	defer func() { report.FinishedAt = time.Now() }()

	files, err := Discover(p.opts.Input, p.opts.Pattern, p.opts.Recursive)
	if err != nil {
		report.Fatal = err
		return report
	}
	report.FilesDiscovered = len(files)
	p.checkpoint.SetTotalFiles(len(files))
	p.log.Info("discovered source files", "count", len(files), "input", p.opts.Input)

	if !p.opts.DryRun {
		res, err := p.backend.EnsureIndex(ctx, p.schema)
		if err != nil {
			report.Fatal = fmt.Errorf("ensure index: %w", err)
			return report
		}
		p.log.Info("index ensured", "status", string(res.Status))
		for _, w := range res.Warnings {
			p.log.Warn("index schema mismatch", "detail", w)
		}
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.opts.Concurrency)

	for _, f := range files {
		if p.checkpoint.IsProcessed(f) {
			report.FilesSkipped++
			p.log.Info("already processed, skipping", "file", f)
			continue
		}
		eg.Go(func() error {
			return p.processFile(gctx, f, report)
		})
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		report.Fatal = err
	}
	if ctx.Err() != nil {
		p.log.Warn("run cancelled, report is partial")
	}
	return report
}

// processFile drives one file through
// Loaded -> Flattened -> Validated -> Uploading -> Committed. A non-nil
// return is reserved for run-fatal conditions; everything file-scoped is
// recorded in the report and swallowed.
func (p *Pipeline) processFile(ctx context.Context, path string, report *Report) error {
	if ctx.Err() != nil {
		return nil // cancelled before this file was scheduled
	}
	ctx = logger.WithFile(ctx, path)

	doc, err := flatten.LoadFile(path)
	if err != nil {
		p.log.WarnContext(ctx, "unreadable source file, skipping", "error", err)
		report.fileFailed(FileError{File: path, Kind: FailureDiscovery, Message: err.Error()})
		return nil
	}

	records, err := flatten.Flatten(doc)
	if err != nil {
		p.log.WarnContext(ctx, "malformed document, skipping", "error", err)
		report.fileFailed(FileError{File: path, Kind: FailureStructural, Message: err.Error()})
		return nil
	}

	accepted := make([]flatten.Record, 0, len(records))
	var rejected int64
	for _, rec := range records {
		res := p.schema.Validate(rec.ID, rec.Fields)
		if res.Valid {
			accepted = append(accepted, rec)
			continue
		}
		rejected++
		for _, fe := range res.Errors {
			report.addError(FileError{
				File:     path,
				Kind:     FailureValidation,
				RecordID: rec.ID,
				Field:    fe.Field,
				Message:  fe.Reason,
			})
		}
		p.log.WarnContext(ctx, "record rejected by validation", "record", rec.ID, "violations", len(res.Errors))
	}

	if p.opts.DryRun {
		p.log.InfoContext(ctx, "dry run, skipping upload",
			"records", len(records), "accepted", len(accepted), "rejected", rejected)
		report.fileDone(int64(len(records)), 0, rejected)
		return nil
	}

	succeeded := int64(0)
	failed := rejected
	committed := true

	// Batches stay sequential within a file so records land in source chunk
	// order.
	for _, b := range uploader.Split(accepted, p.opts.BatchSize) {
		if ctx.Err() != nil {
			committed = false
			break
		}

		outcome, err := p.uploader.Upload(ctx, b)
		if err != nil {
			if backend.IsAuth(err) {
				return err
			}
			if errors.Is(err, context.Canceled) {
				committed = false
				break
			}
			failed += int64(len(b.Records))
			report.addError(FileError{File: path, Kind: FailureUpload, Message: err.Error()})
			p.log.ErrorContext(ctx, "batch failed after retries", "records", len(b.Records), "error", err)
			continue
		}

		succeeded += int64(len(outcome.Succeeded))
		failed += int64(len(outcome.Failed))
		for _, rf := range outcome.Failed {
			report.addError(FileError{File: path, Kind: FailureUpload, RecordID: rf.ID, Message: rf.Reason})
			p.log.WarnContext(ctx, "record rejected by backend", "record", rf.ID, "reason", rf.Reason)
		}
	}

	if !committed {
		// A restart reprocesses this file from scratch; flatten and validate
		// are pure and upload is an upsert, so that is harmless.
		p.log.WarnContext(ctx, "cancelled before all batches finished, not checkpointed")
		return nil
	}

	if err := p.checkpoint.Advance(path, checkpoint.FileOutcome{Records: succeeded, Failures: failed}); err != nil {
		p.log.ErrorContext(ctx, "failed to persist checkpoint", "error", err)
		report.addError(FileError{File: path, Kind: FailureCheckpoint, Message: err.Error()})
	}
	report.fileDone(int64(len(records)), succeeded, failed)

	m := p.checkpoint.Snapshot()
	p.log.InfoContext(ctx, "file committed",
		"records", succeeded,
		"failures", failed,
		"files_done", m.FilesDone,
		"files_total", m.FilesTotal,
		"records_per_sec", fmt.Sprintf("%.1f", m.RecordsSec),
		"eta", m.ETA.Round(time.Second).String(),
	)
	return nil
}
