package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hsexport/internal/analytics"
	"hsexport/internal/config"
	"hsexport/internal/hubspot"
	"hsexport/internal/ingest"
	"hsexport/internal/logging"
	"hsexport/internal/metrics"
	"hsexport/internal/model"
	"hsexport/internal/store/runlog"
	"hsexport/internal/util"
)

const (
	dealsFile     = "deals.json"
	activitiesDir = "activities"
)

// ErrFatal marks failures that abort an export run.
var ErrFatal = errors.New("export failed")

// DealSource lists every deal.
type DealSource interface {
	FetchAll(ctx context.Context) ([]model.Deal, error)
}

// ActivitySource builds the activity record of one deal. It must not fail.
type ActivitySource interface {
	Aggregate(ctx context.Context, dealID string) model.ActivityRecord
}

// Ledger records run bookkeeping; *runlog.DB implements it.
type Ledger interface {
	StartRun(ctx context.Context, outputDir string, at time.Time) (string, error)
	FinishRun(ctx context.Context, r runlog.Run) error
	RecordFailure(ctx context.Context, f runlog.Failure) error
}

// Result describes a finished run.
type Result struct {
	RunID         string
	Status        string
	Deals         int
	ActivityFiles int
	Skipped       int
	Degraded      int
	WriteFailures int
	Failures      int
	Summary       *analytics.Summary
}

// Exporter writes deals.json and one activities/{dealId}.json per deal with activity.
type Exporter struct {
	Deals         DealSource
	Activities    ActivitySource
	OutputDir     string
	ProgressEvery int
	Ledger        Ledger

	runID    string
	failures int
}

// RunExport wires the fetcher, resolver and aggregator from cfg and runs one export.
func RunExport(ctx context.Context, client hubspot.Client, refresher ingest.Refresher, ledger Ledger, cfg config.Config) (Result, error) {
	e := &Exporter{
		OutputDir:     cfg.Export.OutputDir,
		ProgressEvery: cfg.Export.ProgressEvery,
		Ledger:        ledger,
	}
	e.Deals = &ingest.DealFetcher{
		Client:       client,
		Refresher:    refresher,
		PageSize:     cfg.Export.BatchSize,
		Properties:   cfg.Export.DealProperties,
		Associations: cfg.Export.DealAssociations,
	}
	resolver := &ingest.Resolver{
		Client:    client,
		Refresher: refresher,
		Reads:     ingest.NewReadTable(cfg.Export),
		ChunkSize: config.MaxBatchSize,
		OnFailure: func(dealID string, typ model.EngagementType, stage string, err error) {
			e.recordFailure(ctx, dealID, string(typ), stage, err)
		},
	}
	e.Activities = ingest.NewAggregator(resolver)
	return e.Run(ctx)
}

// Run performs the export. Listing deals or writing deals.json failing is fatal;
// problems with a single deal are recorded and the run continues.
func (e *Exporter) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	defer metrics.ObserveExportDuration(start)
	e.failures = 0
	res := Result{Status: runlog.StatusRunning, Summary: analytics.NewSummary()}

	actDir := filepath.Join(e.OutputDir, activitiesDir)
	if err := os.MkdirAll(actDir, 0o755); err != nil {
		return e.fail(ctx, res, fmt.Errorf("create output directories: %w", err))
	}
	e.startLedger(ctx, start)
	res.RunID = e.runID
	logging.Info("export_start", map[string]any{"run_id": e.runID, "output_dir": e.OutputDir})

	deals, err := e.Deals.FetchAll(ctx)
	if err != nil {
		return e.fail(ctx, res, err)
	}
	res.Deals = len(deals)
	if err := util.WriteJSON(filepath.Join(e.OutputDir, dealsFile), deals); err != nil {
		return e.fail(ctx, res, fmt.Errorf("write %s: %w", dealsFile, err))
	}
	logging.Info("deals_written", map[string]any{"count": len(deals), "path": filepath.Join(e.OutputDir, dealsFile)})

	every := e.ProgressEvery
	if every <= 0 {
		every = 10
	}
	for i, d := range deals {
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, res, err)
		}
		rec := e.Activities.Aggregate(ctx, d.ID)
		res.Summary.Add(rec)
		if rec.Error != "" {
			res.Degraded++
			e.recordFailure(ctx, d.ID, "", "aggregate", errors.New(rec.Error))
		}
		switch {
		case !rec.HasActivity():
			res.Skipped++
		case !util.SafeFileName(d.ID):
			res.WriteFailures++
			logging.Warn("deal_id_unsafe", map[string]any{"deal_id": d.ID})
			e.recordFailure(ctx, d.ID, "", "write_activity", errors.New("deal id is not a valid file name"))
		default:
			path := filepath.Join(actDir, d.ID+".json")
			if err := util.WriteJSON(path, rec); err != nil {
				res.WriteFailures++
				logging.Error("activity_write_failed", map[string]any{"deal_id": d.ID, "error": err.Error()})
				e.recordFailure(ctx, d.ID, "", "write_activity", err)
				break
			}
			res.ActivityFiles++
			metrics.ActivityFiles.Inc()
		}
		if n := i + 1; n%every == 0 || n == len(deals) {
			logging.Info("export_progress", map[string]any{"processed": n, "total": len(deals), "files": res.ActivityFiles})
		}
	}

	res.Failures = e.failures
	res.Status = runlog.StatusSucceeded
	if e.failures > 0 {
		res.Status = runlog.StatusPartial
	}
	e.finishLedger(ctx, res, "")
	summary := res.Summary.Fields()
	summary["run_id"] = res.RunID
	summary["status"] = res.Status
	summary["activity_files"] = res.ActivityFiles
	summary["write_failures"] = res.WriteFailures
	summary["duration_ms"] = time.Since(start).Milliseconds()
	logging.Info("export_done", summary)
	return res, nil
}

func (e *Exporter) fail(ctx context.Context, res Result, err error) (Result, error) {
	res.Status = runlog.StatusFailed
	res.Failures = e.failures
	e.finishLedger(ctx, res, err.Error())
	return res, fmt.Errorf("%w: %w", ErrFatal, err)
}

func (e *Exporter) startLedger(ctx context.Context, at time.Time) {
	e.runID = ""
	if e.Ledger == nil {
		return
	}
	id, err := e.Ledger.StartRun(ctx, e.OutputDir, at)
	if err != nil {
		logging.Warn("ledger_error", map[string]any{"op": "start", "error": err.Error()})
		return
	}
	e.runID = id
}

func (e *Exporter) finishLedger(ctx context.Context, res Result, msg string) {
	if e.Ledger == nil || e.runID == "" {
		return
	}
	// the run context may already be cancelled
	err := e.Ledger.FinishRun(context.WithoutCancel(ctx), runlog.Run{
		ID:            e.runID,
		FinishedAt:    time.Now(),
		Status:        res.Status,
		Deals:         res.Deals,
		ActivityFiles: res.ActivityFiles,
		Degraded:      res.Degraded,
		WriteFailures: res.WriteFailures,
		Error:         msg,
	})
	if err != nil {
		logging.Warn("ledger_error", map[string]any{"op": "finish", "error": err.Error()})
	}
}

func (e *Exporter) recordFailure(ctx context.Context, dealID, typ, stage string, cause error) {
	e.failures++
	if e.Ledger == nil || e.runID == "" {
		return
	}
	err := e.Ledger.RecordFailure(context.WithoutCancel(ctx), runlog.Failure{
		RunID:   e.runID,
		DealID:  dealID,
		Stage:   stage,
		Type:    typ,
		Message: cause.Error(),
		At:      time.Now(),
	})
	if err != nil {
		logging.Warn("ledger_error", map[string]any{"op": "record_failure", "error": err.Error()})
	}
}
