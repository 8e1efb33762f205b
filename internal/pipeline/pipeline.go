// Package pipeline orchestrates a full run: aggregate the upload by postal
// code, join boundaries, publish the export artifacts, then sample and
// dissolve groups for the map payload.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/zipatlas/internal/aggregate"
	"github.com/sells-group/zipatlas/internal/boundary"
	"github.com/sells-group/zipatlas/internal/dissolve"
	"github.com/sells-group/zipatlas/internal/enrich"
	"github.com/sells-group/zipatlas/internal/export"
	"github.com/sells-group/zipatlas/internal/sample"
	"github.com/sells-group/zipatlas/internal/table"
	"github.com/sells-group/zipatlas/internal/viz"
)

// PhaseStatus describes how a phase ended.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult records one phase for the run report.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Options configures a single run.
type Options struct {
	ZIPColumn   string
	GroupColumn string
	Retain      []string
	OutDir      string
	SampleK     int
	Seed        uint64
	Parallelism int
	Provider    boundary.Provider
}

// Result is the run report. Counters and warnings cover row-level gaps;
// structural failures surface as the returned error instead.
type Result struct {
	Files         *export.Files `json:"files,omitempty"`
	Viz           *viz.Payload  `json:"-"`
	Rows          int           `json:"rows"`
	DroppedRows   int           `json:"dropped_rows"`
	Requested     int           `json:"requested_codes"`
	Matched       int           `json:"matched_codes"`
	SampledGroups []string      `json:"sampled_groups,omitempty"`
	EmptyGroups   []string      `json:"empty_groups,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
	Phases        []PhaseResult `json:"phases"`
}

// Run executes the pipeline over an ingested table. The returned Result is
// non-nil even on error so callers can inspect completed phases; no export
// artifact exists unless the export phase completed.
func Run(ctx context.Context, tbl *table.Table, opts Options) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"))
	log.Info("starting run",
		zap.String("zip_column", opts.ZIPColumn),
		zap.String("group_column", opts.GroupColumn),
		zap.Int("input_rows", tbl.Len()),
	)

	result := &Result{}

	trackPhase := func(name string, fn func() (*PhaseResult, error)) error {
		start := time.Now()
		pr, err := fn()
		duration := time.Since(start).Milliseconds()

		if pr == nil {
			pr = &PhaseResult{}
		}
		pr.Name = name
		pr.Duration = duration

		if err != nil {
			pr.Status = PhaseStatusFailed
			pr.Error = err.Error()
			log.Error("phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(err),
			)
		} else {
			if pr.Status == "" {
				pr.Status = PhaseStatusComplete
			}
			log.Info("phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		result.Phases = append(result.Phases, *pr)
		return err
	}

	// ===== Phase 1: Aggregate =====
	var agg *aggregate.Result
	err := trackPhase("1_aggregate", func() (*PhaseResult, error) {
		a, aggErr := aggregate.Aggregate(tbl, aggregate.Options{
			CodeColumn:  opts.ZIPColumn,
			GroupColumn: opts.GroupColumn,
			Retain:      opts.Retain,
		})
		if aggErr != nil {
			return nil, aggErr
		}
		agg = a
		return &PhaseResult{Metadata: map[string]any{
			"rows":    a.Table.Len(),
			"dropped": a.Dropped,
		}}, nil
	})
	if err != nil {
		return result, err
	}
	result.Rows = agg.Table.Len()
	result.DroppedRows = agg.Dropped
	if agg.Dropped > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d rows dropped for null postal code or grouping value", agg.Dropped))
	}

	// ===== Phase 2: Boundary join =====
	var ds *enrich.Dataset
	err = trackPhase("2_join", func() (*PhaseResult, error) {
		joined, stats, joinErr := enrich.Join(ctx, agg.Table, opts.ZIPColumn, opts.Provider)
		if joinErr != nil {
			return nil, joinErr
		}
		ds = joined
		result.Requested = stats.Requested
		result.Matched = stats.Matched
		return &PhaseResult{Metadata: map[string]any{
			"requested": stats.Requested,
			"matched":   stats.Matched,
		}}, nil
	})
	if err != nil {
		return result, err
	}
	if unmatched := result.Requested - result.Matched; unmatched > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d postal codes had no boundary", unmatched))
	}

	// ===== Phase 3: Export artifacts =====
	err = trackPhase("3_export", func() (*PhaseResult, error) {
		files, expErr := export.WriteAll(ctx, ds, opts.OutDir)
		if expErr != nil {
			return nil, expErr
		}
		result.Files = files
		return &PhaseResult{Metadata: map[string]any{"dir": opts.OutDir}}, nil
	})
	if err != nil {
		return result, err
	}

	// ===== Phase 4: Sample groups =====
	err = trackPhase("4_sample", func() (*PhaseResult, error) {
		values := distinctValues(ds.Table, opts.GroupColumn)
		rng := sample.NewSource(opts.Seed)
		result.SampledGroups = sample.Pick(values, opts.SampleK, rng)
		return &PhaseResult{Metadata: map[string]any{
			"groups":  len(values),
			"sampled": len(result.SampledGroups),
		}}, nil
	})
	if err != nil {
		return result, err
	}

	// ===== Phase 5: Dissolve =====
	var dres *dissolve.Result
	err = trackPhase("5_dissolve", func() (*PhaseResult, error) {
		d, disErr := dissolve.Dissolve(ctx, ds, opts.GroupColumn, result.SampledGroups,
			dissolve.Options{Parallelism: opts.Parallelism})
		if disErr != nil {
			return nil, disErr
		}
		dres = d
		return &PhaseResult{Metadata: map[string]any{
			"groups": d.Dataset.Len(),
			"empty":  len(d.EmptyGroups),
		}}, nil
	})
	if err != nil {
		return result, err
	}
	result.EmptyGroups = dres.EmptyGroups
	for _, g := range dres.EmptyGroups {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("group %q has no boundary geometry", g))
	}

	// ===== Phase 6: Visualization payload =====
	err = trackPhase("6_viz", func() (*PhaseResult, error) {
		payload, vizErr := viz.Build(dres)
		if vizErr != nil {
			return nil, vizErr
		}
		result.Viz = payload
		if payload == nil {
			return &PhaseResult{
				Status:   PhaseStatusSkipped,
				Metadata: map[string]any{"reason": "no usable geometry"},
			}, nil
		}
		return &PhaseResult{}, nil
	})
	if err != nil {
		return result, err
	}
	if result.Viz == nil {
		result.Warnings = append(result.Warnings, "no usable geometry, visualization skipped")
	}

	log.Info("run complete",
		zap.Int("rows", result.Rows),
		zap.Int("matched", result.Matched),
		zap.Strings("sampled_groups", result.SampledGroups),
		zap.Int("warnings", len(result.Warnings)),
	)

	return result, nil
}

// distinctValues returns the canonical distinct values of a column in first
// row order, skipping nulls.
func distinctValues(tbl *table.Table, col string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, row := range tbl.Rows {
		if row[col] == nil {
			continue
		}
		v := table.ValueString(row[col])
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
