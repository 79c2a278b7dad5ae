package deploy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"podship/internal/config"
	"podship/internal/content"
	"podship/internal/history"
)

func newPipeline(t *testing.T, cfg config.Config, reg *fakeRegistry) *Pipeline {
	t.Helper()
	staging := NewStaging(cfg, reg, &fakePages{}, &fakeFeeds{}, &fakeSocial{}, testLogger())
	gates := NewGateSystem(cfg, reg, fakeValidator{}, testLogger())
	hist, err := history.NewStore(cfg.BackupRoot, cfg.MaxRollbackHistory, testLogger())
	if err != nil {
		t.Fatalf("failed to create history store: %v", err)
	}
	production := NewProduction(cfg, gates, hist, testLogger())
	return NewPipeline(staging, gates, production, testLogger())
}

func TestPipelineValidateOnly(t *testing.T) {
	cfg := testConfig(t)
	pipeline := newPipeline(t, cfg, &fakeRegistry{manifest: testManifest(2)})

	result := pipeline.DeployFullPipeline(context.Background(), "manifest.yaml", false)

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed staging, got %s (%s)", result.Status, result.ErrorMessage)
	}
	if result.Report == nil || !result.Report.OverallPassed {
		t.Fatal("expected a passing validation report")
	}
	if result.Promotion != nil {
		t.Error("validate-only run must not promote")
	}
}

func TestPipelineAutoPromote(t *testing.T) {
	cfg := testConfig(t)
	pipeline := newPipeline(t, cfg, &fakeRegistry{manifest: testManifest(2)})

	result := pipeline.DeployFullPipeline(context.Background(), "manifest.yaml", true)

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed staging, got %s (%s)", result.Status, result.ErrorMessage)
	}
	if result.Promotion == nil {
		t.Fatal("expected a promotion result")
	}
	if !result.Promotion.Completed() {
		t.Fatalf("expected a completed promotion, got %s (%s)",
			result.Promotion.Status, result.Promotion.ErrorMessage)
	}
}

func TestPipelineStagingFailureAborts(t *testing.T) {
	cfg := testConfig(t)
	analytics := &recordingAnalytics{}
	pipeline := newPipeline(t, cfg, &fakeRegistry{loadErr: errors.New("manifest unreadable")})
	pipeline.SetAnalytics(analytics)

	result := pipeline.DeployFullPipeline(context.Background(), "manifest.yaml", true)

	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.Report != nil {
		t.Error("gates must not run when staging fails")
	}
	if result.Promotion != nil {
		t.Error("promotion must not run when staging fails")
	}
	if len(analytics.started) != 0 {
		t.Error("tracking must not start for a failed staging run")
	}
}

func TestPipelineAnalyticsRecorded(t *testing.T) {
	cfg := testConfig(t)
	analytics := &recordingAnalytics{}
	pipeline := newPipeline(t, cfg, &fakeRegistry{manifest: testManifest(1)})
	pipeline.SetAnalytics(analytics)

	result := pipeline.DeployFullPipeline(context.Background(), "manifest.yaml", true)
	if result.Status != StatusCompleted {
		t.Fatalf("pipeline failed: %s", result.ErrorMessage)
	}

	buildID := result.Metadata["pipeline_build_id"].(string)
	if len(analytics.started) != 1 || analytics.started[0] != buildID {
		t.Errorf("expected one start for %s, got %v", buildID, analytics.started)
	}
	if len(analytics.updates) != 1 || !strings.HasPrefix(analytics.updates[0], buildID+":") {
		t.Errorf("expected one metrics update, got %v", analytics.updates)
	}
	if len(analytics.complete) != 1 || analytics.complete[0] != buildID+":true" {
		t.Errorf("expected one successful completion, got %v", analytics.complete)
	}
}

func TestPipelineAnalyticsFailureNonFatal(t *testing.T) {
	cfg := testConfig(t)
	pipeline := newPipeline(t, cfg, &fakeRegistry{manifest: testManifest(1)})
	pipeline.SetAnalytics(&recordingAnalytics{failAll: true})

	result := pipeline.DeployFullPipeline(context.Background(), "manifest.yaml", true)

	if result.Status != StatusCompleted {
		t.Fatalf("analytics failure must not fail the pipeline, got %s", result.Status)
	}
	if result.Promotion == nil || !result.Promotion.Completed() {
		t.Error("promotion should still complete when analytics is down")
	}
}

func TestPipelineValidationFailureBlocksPromotion(t *testing.T) {
	cfg := testConfig(t)
	cfg.SocialStrictMode = true
	analytics := &recordingAnalytics{}
	reg := &fakeRegistry{
		manifest: testManifest(1),
		socialResult: content.ValidationResult{
			IsValid:  false,
			Errors:   []string{"captions rejected everywhere"},
			Metadata: map[string]interface{}{"failure_rate": 1.0},
		},
	}
	pipeline := newPipeline(t, cfg, reg)
	pipeline.SetAnalytics(analytics)

	result := pipeline.DeployFullPipeline(context.Background(), "manifest.yaml", true)

	if result.Status != StatusCompleted {
		t.Fatalf("staging itself succeeded, got %s", result.Status)
	}
	if result.Report == nil || result.Report.OverallPassed {
		t.Fatal("expected a failing report attached to the result")
	}
	if result.Promotion != nil {
		t.Error("a failing report must block auto-promotion")
	}

	buildID := result.Metadata["pipeline_build_id"].(string)
	if len(analytics.complete) != 1 || analytics.complete[0] != buildID+":false" {
		t.Errorf("expected completion tracked as failure, got %v", analytics.complete)
	}
}
