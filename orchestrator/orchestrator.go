// Package orchestrator implements the state machine of spec.md §4.8:
// Run advances a single task through analysis, generation, quality
// checking, and commit, updating the Task Store at every transition.
// The queue's registered processor invokes Run once per job; the two
// in-process events named by spec.md ("code-generated", "code-commit")
// collapse to plain sequential calls within Run, per spec.md §9's note
// that the event-emitter pattern from the source system has no
// standalone analog needed in a worker-per-task Go pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reqforge/reqpipe/analyzer"
	"github.com/reqforge/reqpipe/committer"
	"github.com/reqforge/reqpipe/generator"
	"github.com/reqforge/reqpipe/quality"
	"github.com/reqforge/reqpipe/store"
)

// Timeouts holds the per-stage context deadlines recommended by
// spec.md §5, applied by the orchestrator rather than hard-coded in
// the leaf packages.
type Timeouts struct {
	Analysis   time.Duration
	Generation time.Duration
	Validation time.Duration
	CommitPush time.Duration
}

// DefaultTimeouts matches spec.md §5 exactly.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Analysis:   60 * time.Second,
		Generation: 120 * time.Second,
		Validation: 30 * time.Second,
		CommitPush: 120 * time.Second,
	}
}

// GateConfig controls whether a failed quality gate blocks commit.
// spec.md §4.8's default policy is commit regardless of pass/fail;
// gating is configuration-controlled.
type GateConfig struct {
	EnforceGate bool
}

// Orchestrator wires the seven components into the
// Queue → (Analyzer → Generator → QualityChecker → Committer) flow.
type Orchestrator struct {
	Store     store.TaskStore
	Analyzer  *analyzer.Analyzer
	Generator *generator.Generator
	Quality   *quality.Checker
	Committer *committer.Committer
	Timeouts  Timeouts
	Gate      GateConfig
	Logger    *zap.Logger
}

// New builds an Orchestrator with default timeouts and commit-regardless gating.
func New(taskStore store.TaskStore, a *analyzer.Analyzer, g *generator.Generator, q *quality.Checker, c *committer.Committer, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		Store:     taskStore,
		Analyzer:  a,
		Generator: g,
		Quality:   q,
		Committer: c,
		Timeouts:  DefaultTimeouts(),
		Logger:    logger.With(zap.String("component", "orchestrator")),
	}
}

// Run advances taskID through the full pipeline, matching the state
// table of spec.md §4.8 step by step.
func (o *Orchestrator) Run(ctx context.Context, taskID string) error {
	task, err := o.Store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("orchestrator: load task: %w", err)
	}

	if err := o.Store.UpdateStatus(ctx, taskID, store.StatusInProgress, 0.1, store.Details{Stage: "analyzing"}); err != nil {
		return fmt.Errorf("orchestrator: mark analyzing: %w", err)
	}

	template, analysis, err := o.analyze(ctx, task)
	if err != nil {
		return o.fail(ctx, taskID, "analysis", err)
	}

	analysisJSON, err := analysis.Marshal()
	if err != nil {
		return o.fail(ctx, taskID, "analysis", err)
	}
	if err := o.Store.UpdateStatus(ctx, taskID, store.StatusInProgress, 0.3, store.Details{
		Stage:    "analyzed",
		Analysis: analysisJSON,
	}); err != nil {
		return fmt.Errorf("orchestrator: record analysis: %w", err)
	}
	_ = template

	artifact, candidates, err := o.runGeneration(ctx, task, analysis)
	if err != nil {
		return o.fail(ctx, taskID, "code_generation", err)
	}
	if err := o.Store.UpdateStatus(ctx, taskID, store.StatusInProgress, 0.5, store.Details{
		Stage:    "generated",
		Analysis: analysisJSON,
	}); err != nil {
		return fmt.Errorf("orchestrator: record generation: %w", err)
	}

	checkResult, err := o.check(ctx, analysis, artifact, task.Language)
	if err != nil {
		return o.fail(ctx, taskID, "quality_check", err)
	}

	scores := store.QualityScores{
		CodeQuality:         checkResult.CodeQualityScore,
		RequirementCoverage: checkResult.RequirementCoverageScore,
		SyntaxValidity:      checkResult.SyntaxValidityScore,
	}
	if _, err := o.Store.UpsertMetrics(ctx, taskID, scores, checkResult.StaticAnalysis, checkResult.Feedback); err != nil {
		return fmt.Errorf("orchestrator: persist quality metrics: %w", err)
	}
	passed := checkResult.Passed
	if err := o.Store.UpdateStatus(ctx, taskID, store.StatusInProgress, 0.7, store.Details{
		Stage:         "quality-checked",
		Analysis:      analysisJSON,
		QualityPassed: &passed,
		QualityScores: &scores,
	}); err != nil {
		return fmt.Errorf("orchestrator: record quality check: %w", err)
	}

	if o.Gate.EnforceGate && !passed {
		return o.fail(ctx, taskID, "quality_check", fmt.Errorf("Low code quality score"))
	}

	if err := o.Store.UpdateStatus(ctx, taskID, store.StatusInProgress, 0.8, store.Details{
		Stage:         "committing",
		Analysis:      analysisJSON,
		QualityPassed: &passed,
		QualityScores: &scores,
	}); err != nil {
		return fmt.Errorf("orchestrator: mark committing: %w", err)
	}

	commitResult, err := o.commit(ctx, task, task.Branch, analysis, artifact)
	if err != nil {
		return o.fail(ctx, taskID, "code_commit", err)
	}

	var comparisonBranches map[string]string
	if len(candidates) > 0 {
		comparisonBranches = map[string]string{task.Branch: commitResult.CommitHash}
		for _, c := range candidates {
			branch := task.Branch + "-" + c.Provider
			cResult, cErr := o.commit(ctx, task, branch, analysis, c.Artifact)
			if cErr != nil {
				o.Logger.Warn("comparison branch commit failed", zap.String("task_id", taskID),
					zap.String("provider", c.Provider), zap.Error(cErr))
				continue
			}
			comparisonBranches[branch] = cResult.CommitHash
		}
	}

	return o.Store.UpdateStatus(ctx, taskID, store.StatusCompleted, 1.0, store.Details{
		Stage:              "completed",
		Analysis:           analysisJSON,
		CommitHash:         commitResult.CommitHash,
		FilesChanged:       commitResult.FilesChanged,
		QualityPassed:      &passed,
		QualityScores:      &scores,
		ComparisonBranches: comparisonBranches,
	})
}

// runGeneration produces the artifact to carry through quality-check
// and commit. When task.CompareProviders is set (spec.md §4.5's
// opt-in multi-model comparison mode), it fans the Generator prompt
// out across those providers and returns the largest-file-count
// artifact as the primary candidate, plus the rest as comparison
// candidates for comparison-branch commits.
func (o *Orchestrator) runGeneration(ctx context.Context, task *store.Task, analysis analyzer.Analysis) (generator.Artifact, []generator.ComparisonResult, error) {
	if len(task.CompareProviders) == 0 {
		artifact, err := o.generate(ctx, analysis, task.Language)
		return artifact, nil, err
	}
	best, candidates, err := o.generateComparison(ctx, analysis, task.Language, task.CompareProviders)
	if err != nil {
		return nil, nil, err
	}
	return best.Artifact, candidates, nil
}

func (o *Orchestrator) analyze(ctx context.Context, task *store.Task) (*store.CodeTemplate, analyzer.Analysis, error) {
	analysisCtx, cancel := context.WithTimeout(ctx, o.Timeouts.Analysis)
	defer cancel()

	var template *store.CodeTemplate
	if task.TemplateID != "" {
		t, err := o.Store.GetTemplate(analysisCtx, task.TemplateID)
		if err == nil {
			template = t
		}
	}

	analysis, err := o.Analyzer.Analyze(analysisCtx, task.RequirementText, string(task.Language), template)
	return template, analysis, err
}

func (o *Orchestrator) generate(ctx context.Context, analysis analyzer.Analysis, language store.TargetLanguage) (generator.Artifact, error) {
	generationCtx, cancel := context.WithTimeout(ctx, o.Timeouts.Generation)
	defer cancel()
	return o.Generator.Generate(generationCtx, analysis, string(language))
}

func (o *Orchestrator) generateComparison(ctx context.Context, analysis analyzer.Analysis, language store.TargetLanguage, providers []string) (generator.ComparisonResult, []generator.ComparisonResult, error) {
	generationCtx, cancel := context.WithTimeout(ctx, o.Timeouts.Generation)
	defer cancel()
	return o.Generator.GenerateComparison(generationCtx, analysis, string(language), providers)
}

func (o *Orchestrator) check(ctx context.Context, analysis analyzer.Analysis, artifact generator.Artifact, language store.TargetLanguage) (quality.Result, error) {
	checkCtx, cancel := context.WithTimeout(ctx, o.Timeouts.Validation)
	defer cancel()
	return o.Quality.Check(checkCtx, analysis, artifact, string(language))
}

func (o *Orchestrator) commit(ctx context.Context, task *store.Task, branch string, analysis analyzer.Analysis, artifact generator.Artifact) (committer.Result, error) {
	commitCtx, cancel := context.WithTimeout(ctx, o.Timeouts.CommitPush)
	defer cancel()

	outputPath := task.OutputPath
	if outputPath == "" {
		outputPath = generator.DefaultOutputPathFor(analysis, string(task.Language))
	}
	return o.Committer.Commit(commitCtx, task.RepositoryURL, branch, outputPath, artifact, task.RequirementText, analysis.Title)
}

func (o *Orchestrator) fail(ctx context.Context, taskID, stage string, cause error) error {
	o.Logger.Warn("task failed", zap.String("task_id", taskID), zap.String("stage", stage), zap.Error(cause))
	updateErr := o.Store.UpdateStatus(ctx, taskID, store.StatusFailed, 0, store.Details{
		Stage: stage,
		Error: cause.Error(),
	})
	if updateErr != nil {
		return fmt.Errorf("orchestrator: %s failed (%w) and failed to record failure: %v", stage, cause, updateErr)
	}
	return fmt.Errorf("%s: %w", stage, cause)
}
