// Package optimize coordinates on-demand optimization of the platform's
// database, cache and image subsystems, folding each step's outcome into a
// single report. A failing step never aborts its siblings.
package optimize

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Oualidl290/new-andalus-telemetry/internal/telemetry"
)

// StepResult is the outcome of one optimization step.
type StepResult struct {
	Success       bool        `json:"success"`
	Optimizations []string    `json:"optimizations"`
	Errors        []string    `json:"errors"`
	Metrics       StepMetrics `json:"metrics"`
}

// StepMetrics captures a step's before/after readings.
type StepMetrics struct {
	Before map[string]float64 `json:"before"`
	After  map[string]float64 `json:"after"`
}

// Overall folds the individual step outcomes.
type Overall struct {
	Success            bool `json:"success"`
	TotalOptimizations int  `json:"total_optimizations"`
	TotalErrors        int  `json:"total_errors"`
}

// Report is the full optimization run outcome.
type Report struct {
	Database StepResult `json:"database"`
	Cache    StepResult `json:"cache"`
	Images   StepResult `json:"images"`
	Overall  Overall    `json:"overall"`
}

// Optimizer is one optimization step: read current stats, apply whatever
// remediation is available, report what was done.
type Optimizer interface {
	Optimize(ctx context.Context) (StepResult, error)
}

// Orchestrator runs the database, cache and image steps sequentially.
type Orchestrator struct {
	database Optimizer
	cache    Optimizer
	images   Optimizer
	trace    *telemetry.TraceHelper
	logger   *zap.Logger
}

// NewOrchestrator wires the three optimization steps. Any step may be nil;
// a nil step reports success with no work done. trace may be nil: steps then
// run unspanned.
func NewOrchestrator(database, cache, images Optimizer, trace *telemetry.TraceHelper, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		database: database,
		cache:    cache,
		images:   images,
		trace:    trace,
		logger:   logger,
	}
}

// RunFull executes all three steps. A step's error or panic is captured in
// that step's own error list; the remaining steps still run.
func (o *Orchestrator) RunFull(ctx context.Context) Report {
	report := Report{
		Database: o.runStep(ctx, "database", o.database),
		Cache:    o.runStep(ctx, "cache", o.cache),
		Images:   o.runStep(ctx, "images", o.images),
	}

	for _, step := range []StepResult{report.Database, report.Cache, report.Images} {
		report.Overall.TotalOptimizations += len(step.Optimizations)
		report.Overall.TotalErrors += len(step.Errors)
	}
	report.Overall.Success = report.Overall.TotalErrors == 0

	o.logger.Info("Optimization run completed",
		zap.Bool("success", report.Overall.Success),
		zap.Int("optimizations", report.Overall.TotalOptimizations),
		zap.Int("errors", report.Overall.TotalErrors))

	return report
}

func (o *Orchestrator) runStep(ctx context.Context, name string, step Optimizer) (result StepResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Optimization step panicked",
				zap.String("step", name), zap.Any("panic", r))
			result = failedStep(fmt.Sprintf("%s step panicked: %v", name, r))
		}
	}()

	if step == nil {
		return emptyStep()
	}

	if o.trace == nil {
		return o.executeStep(ctx, name, step)
	}
	_ = o.trace.TraceOptimizeStepFunc(ctx, name, func(ctx context.Context) error {
		result = o.executeStep(ctx, name, step)
		if !result.Success {
			return fmt.Errorf("%s step finished with %d errors", name, len(result.Errors))
		}
		return nil
	})
	return result
}

func (o *Orchestrator) executeStep(ctx context.Context, name string, step Optimizer) StepResult {
	result, err := step.Optimize(ctx)
	normalizeStep(&result)
	if err != nil {
		o.logger.Error("Optimization step failed",
			zap.String("step", name), zap.Error(err))
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
	}
	return result
}

func emptyStep() StepResult {
	r := StepResult{Success: true}
	normalizeStep(&r)
	return r
}

func failedStep(msg string) StepResult {
	r := emptyStep()
	r.Success = false
	r.Errors = append(r.Errors, msg)
	return r
}

// normalizeStep keeps the JSON shape stable: lists and maps are never nil.
func normalizeStep(r *StepResult) {
	if r.Optimizations == nil {
		r.Optimizations = []string{}
	}
	if r.Errors == nil {
		r.Errors = []string{}
	}
	if r.Metrics.Before == nil {
		r.Metrics.Before = map[string]float64{}
	}
	if r.Metrics.After == nil {
		r.Metrics.After = map[string]float64{}
	}
}
