// Package pipeline runs a report: period, concurrent source fetches,
// per-source transformations, merge and global transformations.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AngelCh415/adreports/internal/credentials"
	"github.com/AngelCh415/adreports/internal/errs"
	"github.com/AngelCh415/adreports/internal/ingest"
	"github.com/AngelCh415/adreports/internal/metrics"
	"github.com/AngelCh415/adreports/internal/models"
	"github.com/AngelCh415/adreports/internal/period"
	"github.com/AngelCh415/adreports/internal/table"
	"github.com/AngelCh415/adreports/internal/transform"
)

type Pipeline struct {
	sources ingest.Registry
	creds   credentials.Provider
	log     *slog.Logger
	now     func() time.Time
}

// New builds a pipeline. now anchors relative periods; nil means time.Now.
func New(sources ingest.Registry, creds credentials.Provider, log *slog.Logger, now func() time.Time) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Pipeline{sources: sources, creds: creds, log: log, now: now}
}

// Plan is a validated report ready to fetch.
type Plan struct {
	Range    period.Range
	Sources  []models.SourceConfig
	fetchers []ingest.Fetcher
	global   transform.Steps
}

// Validate resolves the period and checks every source and step without
// any network call.
func (p *Pipeline) Validate(cfg models.ReportConfig) (*Plan, error) {
	r, err := period.Resolve(cfg.Period, p.now())
	if err != nil {
		return nil, errs.AtStage(errs.StagePeriod, err)
	}
	if len(cfg.Sources) == 0 {
		return nil, errs.AtStage(errs.StageMerge, errs.Invalid("sources", "report has no sources"))
	}

	plan := &Plan{Range: r, Sources: cfg.Sources, global: cfg.Transformations}
	ids := make([]string, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		stage := errs.FetchStage(src.ID)
		switch id := strings.TrimSpace(src.ID); {
		case id == "":
			return nil, errs.AtStage(stage, errs.Invalid("id", "source id is required"))
		case id == transform.Current:
			return nil, errs.AtStage(stage, errs.Invalid("id", "%q is a reserved table name", id))
		}
		for _, seen := range ids {
			if seen == src.ID {
				return nil, errs.AtStage(stage, errs.Invalid("id", "duplicate source id %q", src.ID))
			}
		}
		f, err := p.sources.Fetcher(src.Type)
		if err != nil {
			return nil, errs.AtStage(stage, err)
		}
		if err := f.Validate(src); err != nil {
			return nil, errs.AtStage(stage, err)
		}
		if i, err := transform.Validate(src.Transformations, []string{src.ID}); err != nil {
			return nil, errs.AtStage(errs.SourceTransformStage(src.ID, i), err)
		}
		ids = append(ids, src.ID)
		plan.fetchers = append(plan.fetchers, f)
	}
	if i, err := transform.Validate(cfg.Transformations, ids); err != nil {
		return nil, errs.AtStage(errs.TransformStage(i), err)
	}
	return plan, nil
}

// Run executes the report and returns the final table. Any failure aborts
// the whole run; no partial table is returned.
func (p *Pipeline) Run(ctx context.Context, cfg models.ReportConfig) (*table.Table, error) {
	start := time.Now()
	out, err := p.run(ctx, cfg)
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PipelineRuns.WithLabelValues(string(models.RunFailed)).Inc()
		p.log.Error("pipeline failed",
			slog.String("stage", errs.StageOf(err)),
			slog.String("kind", string(errs.KindOf(err))),
			slog.String("err", err.Error()))
		return nil, err
	}
	metrics.PipelineRuns.WithLabelValues(string(models.RunCompleted)).Inc()
	p.log.Info("pipeline complete",
		slog.Int("rows", out.Len()),
		slog.Int("columns", len(out.Columns)),
		slog.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, cfg models.ReportConfig) (*table.Table, error) {
	plan, err := p.Validate(cfg)
	if err != nil {
		return nil, err
	}
	tables, err := p.fetch(ctx, plan)
	if err != nil {
		return nil, err
	}

	named := make(map[string]*table.Table, len(tables))
	for i, src := range plan.Sources {
		t, err := transform.Run(transform.NewWorkspace(tables[i], map[string]*table.Table{src.ID: tables[i]}), src.Transformations)
		if err != nil {
			return nil, errs.AtStage(stepStage(err, func(i int) string { return errs.SourceTransformStage(src.ID, i) }), err)
		}
		tables[i] = t
		named[src.ID] = t
	}

	current, err := merge(plan, tables)
	if err != nil {
		return nil, errs.AtStage(errs.StageMerge, err)
	}

	out, err := transform.Run(transform.NewWorkspace(current, named), plan.global)
	if err != nil {
		return nil, errs.AtStage(stepStage(err, errs.TransformStage), err)
	}
	return out, nil
}

// fetch pulls every source concurrently. The first failure cancels the
// others and is returned on its own.
func (p *Pipeline) fetch(ctx context.Context, plan *Plan) ([]*table.Table, error) {
	tables := make([]*table.Table, len(plan.Sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range plan.Sources {
		f := plan.fetchers[i]
		g.Go(func() error {
			stage := errs.FetchStage(src.ID)
			token, err := credentials.Resolve(gctx, p.creds, src.Integration())
			if err != nil {
				return errs.AtStage(stage, err)
			}
			start := time.Now()
			t, err := f.Fetch(gctx, src, plan.Range, token)
			metrics.SourceFetchDuration.WithLabelValues(string(src.Type)).Observe(time.Since(start).Seconds())
			if err != nil {
				return errs.AtStage(stage, err)
			}
			p.log.Info("source fetched",
				slog.String("source_id", src.ID),
				slog.String("type", string(src.Type)),
				slog.Int("rows", t.Len()))
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}

// merge picks the table global steps start from. A join in the global list
// combines the sources itself; otherwise sources with identical column sets
// are concatenated in configuration order.
func merge(plan *Plan, tables []*table.Table) (*table.Table, error) {
	if len(tables) == 1 || transform.HasJoin(plan.global) {
		return tables[0], nil
	}
	first := tables[0]
	out := table.New(first.Columns...)
	for i, t := range tables {
		if !table.SameColumnSet(first, t) {
			return nil, errs.Invalid("sources", "cannot union %q and %q: column sets differ and no join is configured",
				plan.Sources[0].ID, plan.Sources[i].ID)
		}
		out.Rows = append(out.Rows, t.Rows...)
	}
	return out, nil
}

func stepStage(err error, stage func(int) string) string {
	var se *transform.StepError
	if errors.As(err, &se) {
		return stage(se.Index)
	}
	return stage(0)
}
