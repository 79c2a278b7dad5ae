package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"podship/internal/analytics"
	"podship/internal/checks"
	"podship/internal/config"
	"podship/internal/deploy"
	"podship/internal/history"
	"podship/internal/registry"
	"podship/internal/render"
)

// harness bundles a fully wired pipeline over temp directories.
type harness struct {
	cfg        config.Config
	staging    *deploy.Staging
	production *deploy.Production
	pipeline   *deploy.Pipeline
	tracker    *analytics.Tracker
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	tmpDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	cfg.StagingRoot = filepath.Join(tmpDir, "staging")
	cfg.ProductionRoot = filepath.Join(tmpDir, "production")
	cfg.BackupRoot = filepath.Join(tmpDir, "backups")
	cfg.BatchSize = 2
	cfg.MaxConcurrentWorkers = 2
	cfg.BatchTimeoutSeconds = 60

	social := render.NewSocial()
	reg := registry.New(social, logger)
	staging := deploy.NewStaging(cfg, reg, render.NewPages(), render.NewFeeds(), social, logger)
	gates := deploy.NewGateSystem(cfg, reg, checks.New(), logger)

	hist, err := history.NewStore(cfg.BackupRoot, cfg.MaxRollbackHistory, logger)
	if err != nil {
		t.Fatalf("Failed to open history store: %v", err)
	}

	production := deploy.NewProduction(cfg, gates, hist, logger)
	pipeline := deploy.NewPipeline(staging, gates, production, logger)

	tracker, err := analytics.NewTracker(filepath.Join(tmpDir, "analytics.db"), logger)
	if err != nil {
		t.Fatalf("Failed to open analytics store: %v", err)
	}
	t.Cleanup(func() { tracker.Close() })
	pipeline.SetAnalytics(tracker)

	return &harness{
		cfg:        cfg,
		staging:    staging,
		production: production,
		pipeline:   pipeline,
		tracker:    tracker,
	}
}

// writeManifest writes a YAML manifest with the given build id and
// episode count into the temp tree and returns its path.
func writeManifest(t *testing.T, dir, buildID string, episodes int) string {
	t.Helper()

	var b strings.Builder
	fmt.Fprintf(&b, "build_id: %s\n", buildID)
	b.WriteString("site_url: https://podcast.example.com\n")
	b.WriteString("title: Example Podcast\n")
	b.WriteString("description: A show about examples\n")
	b.WriteString("series:\n  - id: s1\n    title: Season One\n    description: The first season\n")
	b.WriteString("hosts:\n  - id: h1\n    name: Alex Example\n    bio: Longtime host\n")
	b.WriteString("episodes:\n")
	for i := 1; i <= episodes; i++ {
		published := time.Now().UTC().Add(-time.Duration(i) * time.Hour).Format(time.RFC3339)
		fmt.Fprintf(&b, "  - id: ep-%d\n", i)
		fmt.Fprintf(&b, "    title: Episode %d\n", i)
		fmt.Fprintf(&b, "    description: Notes for episode %d\n", i)
		b.WriteString("    series_id: s1\n    host_ids: [h1]\n")
		fmt.Fprintf(&b, "    audio_url: https://cdn.example.com/ep-%d.mp3\n", i)
		fmt.Fprintf(&b, "    video_url: https://cdn.example.com/ep-%d.mp4\n", i)
		b.WriteString("    duration_seconds: 1800\n")
		fmt.Fprintf(&b, "    published_at: %s\n", published)
	}

	path := filepath.Join(dir, buildID+".yaml")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
	return path
}

// TestFullPipelineDeployAndPromote drives a manifest through staging,
// validation and promotion using only the built-in generators.
func TestFullPipelineDeployAndPromote(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	h := newHarness(t)
	manifestPath := writeManifest(t, t.TempDir(), "build-e2e-1", 3)

	result := h.pipeline.DeployFullPipeline(context.Background(), manifestPath, true)

	if !result.Completed() {
		t.Fatalf("Staging failed: %s (%s)", result.Status, result.ErrorMessage)
	}
	if result.Report == nil || !result.Report.OverallPassed {
		t.Fatalf("Validation did not pass: %+v", result.Report)
	}
	if result.Promotion == nil || !result.Promotion.Completed() {
		t.Fatalf("Promotion missing or failed: %+v", result.Promotion)
	}

	if result.Counts.Episodes != 3 {
		t.Errorf("Expected 3 episodes, got %d", result.Counts.Episodes)
	}
	// 3 episode pages + 1 series page + 1 host page.
	if result.Counts.PagesGenerated != 5 {
		t.Errorf("Expected 5 pages, got %d", result.Counts.PagesGenerated)
	}
	if result.Counts.SocialPackages != 12 {
		t.Errorf("Expected 12 social package attempts, got %d", result.Counts.SocialPackages)
	}

	// Production now serves the generated site.
	for _, rel := range []string{
		"episodes/ep-1.html",
		"episodes/ep-1.json",
		"series/s1.html",
		"hosts/h1.html",
		"feeds/rss.xml",
		"feeds/sitemap.xml",
		"feeds/video-sitemap.xml",
		"social/youtube/ep-1/upload.json",
	} {
		if _, err := os.Stat(filepath.Join(h.cfg.ProductionRoot, rel)); err != nil {
			t.Errorf("Expected production file %s: %v", rel, err)
		}
	}

	// History recorded the promotion as a rollback candidate.
	candidates := h.production.GetRollbackCandidates()
	if len(candidates) != 1 {
		t.Fatalf("Expected 1 rollback candidate, got %d", len(candidates))
	}
	if candidates[0].ManifestBuildID != "build-e2e-1" {
		t.Errorf("Candidate build id = %q", candidates[0].ManifestBuildID)
	}

	// Analytics tracked the run to completion.
	records, err := h.tracker.RecentDeployments(10)
	if err != nil {
		t.Fatalf("RecentDeployments: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 analytics record, got %d", len(records))
	}
	if records[0].Success == nil || !*records[0].Success {
		t.Errorf("Analytics record should be marked successful: %+v", records[0])
	}
}

// TestFullPipelineRollbackRestoresPreviousSite promotes two builds and
// rolls the second back, expecting the first build's content to return.
func TestFullPipelineRollbackRestoresPreviousSite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	h := newHarness(t)
	manifestDir := t.TempDir()

	first := h.pipeline.DeployFullPipeline(context.Background(),
		writeManifest(t, manifestDir, "build-a", 1), true)
	if first.Promotion == nil || !first.Promotion.Completed() {
		t.Fatalf("First promotion failed: %+v", first)
	}

	second := h.pipeline.DeployFullPipeline(context.Background(),
		writeManifest(t, manifestDir, "build-b", 2), true)
	if second.Promotion == nil || !second.Promotion.Completed() {
		t.Fatalf("Second promotion failed: %+v", second)
	}

	// build-b added ep-2; after rolling it back the page must be gone.
	ep2 := filepath.Join(h.cfg.ProductionRoot, "episodes", "ep-2.html")
	if _, err := os.Stat(ep2); err != nil {
		t.Fatalf("Expected ep-2 page before rollback: %v", err)
	}

	rollback := h.production.RollbackDeployment(context.Background(), "")
	if rollback.Status != deploy.StatusRolledBack {
		t.Fatalf("Rollback failed: %s (%s)", rollback.Status, rollback.ErrorMessage)
	}

	if _, err := os.Stat(ep2); !os.IsNotExist(err) {
		t.Errorf("ep-2 page should be gone after rollback, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.ProductionRoot, "episodes", "ep-1.html")); err != nil {
		t.Errorf("ep-1 page should survive rollback: %v", err)
	}
}

// TestFullPipelineValidationBlocksPromotion stages a manifest that the
// gates reject and checks that production stays empty.
func TestFullPipelineValidationBlocksPromotion(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	h := newHarness(t)

	// Deploy once so there is a real production tree to protect.
	manifestDir := t.TempDir()
	baseline := h.pipeline.DeployFullPipeline(context.Background(),
		writeManifest(t, manifestDir, "build-good", 1), true)
	if baseline.Promotion == nil || !baseline.Promotion.Completed() {
		t.Fatalf("Baseline promotion failed: %+v", baseline)
	}

	// Stage a second build, corrupt one page, then try to promote it.
	next := h.staging.DeployToStaging(context.Background(),
		writeManifest(t, manifestDir, "build-bad", 2))
	if !next.Completed() {
		t.Fatalf("Staging failed: %s", next.ErrorMessage)
	}

	stagingPath := h.staging.Path(next.ID)
	page := filepath.Join(stagingPath, "episodes", "ep-1.html")
	if err := os.WriteFile(page, []byte("<div>no title, no main"), 0644); err != nil {
		t.Fatalf("Failed to corrupt page: %v", err)
	}

	promo := h.production.PromoteToProduction(context.Background(), next.ID, stagingPath)
	if promo.Completed() {
		t.Fatal("Promotion should have been blocked by validation")
	}
	if promo.Report == nil || promo.Report.OverallPassed {
		t.Fatalf("Expected failing report, got %+v", promo.Report)
	}

	// Production still serves the baseline build only.
	if _, err := os.Stat(filepath.Join(h.cfg.ProductionRoot, "episodes", "ep-2.html")); !os.IsNotExist(err) {
		t.Errorf("Rejected build leaked into production, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.ProductionRoot, "episodes", "ep-1.html")); err != nil {
		t.Errorf("Baseline content missing from production: %v", err)
	}
}
