package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AngelCh415/adreports/internal/errs"
	"github.com/AngelCh415/adreports/internal/export"
	"github.com/AngelCh415/adreports/internal/models"
	"github.com/AngelCh415/adreports/internal/store"
	"github.com/AngelCh415/adreports/internal/table"
)

// Runner executes a named report end to end: pipeline, export and run
// bookkeeping.
type Runner struct {
	Pipeline *Pipeline
	Sinks    export.Mux
	Runs     store.RunStore
	Log      *slog.Logger
}

// Run records a ReportRun for the report and returns it in its final
// state. The returned error is the pipeline or export failure, if any;
// the run then carries status failed and the failing stage.
func (r *Runner) Run(ctx context.Context, name string, cfg models.ReportConfig) (models.ReportRun, *table.Table, error) {
	run := models.ReportRun{
		ID:         uuid.NewString(),
		ReportName: name,
		Status:     models.RunRunning,
		StartedAt:  time.Now().UTC(),
	}
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("run_id", run.ID), slog.String("report", name))

	if err := r.Runs.Create(ctx, run); err != nil {
		return run, nil, err
	}

	out, ref, err := r.execute(ctx, run, cfg)
	done := time.Now().UTC()
	run.CompletedAt = &done
	if err != nil {
		run.Status = models.RunFailed
		run.ErrorMessage = err.Error()
		run.ErrorStage = errs.StageOf(err)
		log.Error("report run failed", slog.String("stage", run.ErrorStage), slog.String("err", err.Error()))
	} else {
		run.Status = models.RunCompleted
		run.ResultURL = ref
		run.RowCount = out.Len()
		log.Info("report run completed", slog.String("result_url", ref), slog.Int("rows", run.RowCount))
	}
	// recorded even when ctx is already canceled
	if uerr := r.Runs.Update(context.WithoutCancel(ctx), run); uerr != nil {
		log.Error("saving run", slog.String("err", uerr.Error()))
	}
	return run, out, err
}

func (r *Runner) execute(ctx context.Context, run models.ReportRun, cfg models.ReportConfig) (*table.Table, string, error) {
	if err := r.Sinks.Check(cfg.Export); err != nil {
		return nil, "", errs.AtStage(errs.StageExport, err)
	}
	out, err := r.Pipeline.Run(ctx, cfg)
	if err != nil {
		return nil, "", err
	}
	ref, err := r.Sinks.Write(ctx, out, export.Request{Config: cfg.Export, ReportName: run.ReportName, RunID: run.ID})
	if err != nil {
		return nil, "", errs.AtStage(errs.StageExport, err)
	}
	return out, ref, nil
}
