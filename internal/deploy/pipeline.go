package deploy

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"podship/internal/content"
)

// Analytics is the optional deployment-tracking side channel. Every
// call is best-effort: failures are logged and never alter the
// pipeline's primary outcome.
type Analytics interface {
	StartDeploymentTracking(buildID string, counts content.ContentCounts) error
	UpdateDeploymentMetrics(buildID string, errorCount, warningCount int) error
	CompleteDeploymentTracking(buildID string, success bool) error
}

// Pipeline orchestrates staging, validation and (optionally) promotion
// into one call. It performs no locking of its own; concurrent runs
// must be serialized by the caller.
type Pipeline struct {
	staging    *Staging
	gates      *GateSystem
	production *Production
	analytics  Analytics
	logger     *slog.Logger
}

// NewPipeline creates a pipeline over the three deployment stages.
func NewPipeline(staging *Staging, gates *GateSystem, production *Production, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		staging:    staging,
		gates:      gates,
		production: production,
		logger:     logger,
	}
}

// SetAnalytics installs the optional analytics collaborator.
func (p *Pipeline) SetAnalytics(a Analytics) {
	p.analytics = a
}

// DeployFullPipeline stages the manifest, runs the validation gates,
// and, when autoPromote is set and every gate passed, promotes to
// production. The validation report is attached to the staging result
// regardless of outcome so callers can always see why promotion did or
// didn't happen. If staging itself fails, only the staging result is
// returned.
func (p *Pipeline) DeployFullPipeline(ctx context.Context, manifestPath string, autoPromote bool) *Result {
	buildID := uuid.NewString()
	p.logger.Info("Starting full deployment pipeline",
		"build_id", buildID,
		"manifest", manifestPath,
		"auto_promote", autoPromote)

	stagingResult := p.staging.DeployToStaging(ctx, manifestPath)
	stagingResult.Metadata["pipeline_build_id"] = buildID

	if !stagingResult.Completed() {
		p.logger.Warn("Pipeline aborted: staging did not complete",
			"build_id", buildID,
			"error", stagingResult.ErrorMessage)
		return stagingResult
	}

	p.track("start", func() error {
		return p.analytics.StartDeploymentTracking(buildID, stagingResult.Counts)
	})

	stagingPath := p.staging.Path(stagingResult.ID)
	m, err := LoadStagedManifest(stagingPath)
	if err != nil {
		// Staging just wrote the snapshot; losing it between steps is an
		// environment error, not a validation failure.
		stagingResult.Status = StatusFailed
		stagingResult.ErrorMessage = err.Error()
		p.track("complete", func() error {
			return p.analytics.CompleteDeploymentTracking(buildID, false)
		})
		return stagingResult
	}

	report := p.gates.Run(stagingPath, m)
	stagingResult.Report = report

	p.track("update", func() error {
		return p.analytics.UpdateDeploymentMetrics(buildID, report.TotalErrors, report.TotalWarnings)
	})

	success := report.OverallPassed

	if autoPromote && report.OverallPassed {
		promotion := p.production.PromoteToProduction(ctx, stagingResult.ID, stagingPath)
		stagingResult.Promotion = promotion
		success = promotion.Completed()
	}

	p.track("complete", func() error {
		return p.analytics.CompleteDeploymentTracking(buildID, success)
	})

	p.logger.Info("Pipeline finished",
		"build_id", buildID,
		"staging", stagingResult.ID,
		"overall_passed", report.OverallPassed,
		"promoted", stagingResult.Promotion != nil && stagingResult.Promotion.Completed())

	return stagingResult
}

// track runs one analytics call, absorbing any failure. Analytics is a
// side channel; an unreachable metrics store must never fail a deploy.
func (p *Pipeline) track(step string, fn func() error) {
	if p.analytics == nil {
		return
	}
	if err := fn(); err != nil {
		p.logger.Warn("Analytics tracking failed", "step", step, "error", err)
	}
}
