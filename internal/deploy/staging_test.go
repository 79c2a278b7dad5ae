package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"podship/internal/config"
	"podship/internal/content"
)

func newTestStaging(t *testing.T, reg *fakeRegistry, pg *fakePages, fg *fakeFeeds, sg *fakeSocial) (*Staging, config.Config) {
	t.Helper()
	cfg := testConfig(t)
	return NewStaging(cfg, reg, pg, fg, sg, testLogger()), cfg
}

func TestDeployToStagingCounts(t *testing.T) {
	reg := &fakeRegistry{manifest: testManifest(3)}
	staging, _ := newTestStaging(t, reg, &fakePages{}, &fakeFeeds{}, &fakeSocial{})

	result := staging.DeployToStaging(context.Background(), "manifest.yaml")

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", result.Status, result.ErrorMessage)
	}
	if result.Counts.Episodes != 3 {
		t.Errorf("expected 3 episodes, got %d", result.Counts.Episodes)
	}
	if result.Counts.Series != 1 || result.Counts.Hosts != 1 {
		t.Errorf("expected 1 series and 1 host, got %d/%d", result.Counts.Series, result.Counts.Hosts)
	}
	if result.Counts.PagesGenerated != 5 {
		t.Errorf("expected 5 pages, got %d", result.Counts.PagesGenerated)
	}
	// site rss + 1 series rss + 3 sitemaps
	if result.Counts.FeedsGenerated != 5 {
		t.Errorf("expected 5 feeds, got %d", result.Counts.FeedsGenerated)
	}

	stagingPath := result.Metadata["staging_path"].(string)
	for _, name := range []string{ManifestFileName, CountsFileName, "episodes/ep-1.html", "episodes/ep-1.json", "feeds/rss.xml"} {
		if _, err := os.Stat(filepath.Join(stagingPath, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
}

func TestDeployToStagingIsolatesItemFailure(t *testing.T) {
	reg := &fakeRegistry{manifest: testManifest(6)}
	pages := &fakePages{failEpisodes: map[string]bool{"ep-4": true}}
	staging, _ := newTestStaging(t, reg, pages, &fakeFeeds{}, &fakeSocial{})

	result := staging.DeployToStaging(context.Background(), "manifest.yaml")

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed despite item failure, got %s", result.Status)
	}
	if result.Counts.Episodes != 5 {
		t.Errorf("expected 5 of 6 episodes, got %d", result.Counts.Episodes)
	}
	if result.Counts.PagesGenerated != 7 {
		t.Errorf("expected 7 pages, got %d", result.Counts.PagesGenerated)
	}

	stagingPath := result.Metadata["staging_path"].(string)
	if _, err := os.Stat(filepath.Join(stagingPath, "episodes", "ep-4.html")); !os.IsNotExist(err) {
		t.Error("failed episode page should not be written")
	}
}

// blockingPages stalls selected episodes until release is closed,
// letting tests drive a batch past its timeout deterministically.
type blockingPages struct {
	fakePages
	block   map[string]bool
	release chan struct{}
}

func (p *blockingPages) EpisodePage(m *content.Manifest, ep content.Episode) (content.Page, error) {
	if p.block[ep.ID] {
		<-p.release
	}
	return p.fakePages.EpisodePage(m, ep)
}

func TestDeployToStagingBatchTimeoutKeepsCompletedItems(t *testing.T) {
	reg := &fakeRegistry{manifest: testManifest(2)}
	pages := &blockingPages{block: map[string]bool{"ep-2": true}, release: make(chan struct{})}
	defer close(pages.release)

	cfg := testConfig(t)
	cfg.BatchTimeoutSeconds = 1
	staging := NewStaging(cfg, reg, pages, &fakeFeeds{}, &fakeSocial{}, testLogger())

	result := staging.DeployToStaging(context.Background(), "manifest.yaml")

	if result.Status != StatusCompleted {
		t.Fatalf("a timed-out batch must not fail the run, got %s (%s)", result.Status, result.ErrorMessage)
	}
	if result.Counts.Episodes != 1 {
		t.Errorf("expected the completed episode to stay counted, got %d", result.Counts.Episodes)
	}
	if result.Counts.PagesGenerated != 3 {
		t.Errorf("expected 3 pages, got %d", result.Counts.PagesGenerated)
	}

	stagingPath := result.Metadata["staging_path"].(string)
	if _, err := os.Stat(filepath.Join(stagingPath, "episodes", "ep-1.html")); err != nil {
		t.Errorf("completed episode page should exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(stagingPath, "episodes", "ep-2.html")); !os.IsNotExist(err) {
		t.Error("abandoned episode page should not be written")
	}
}

func TestDeployToStagingManifestLoadFailure(t *testing.T) {
	reg := &fakeRegistry{loadErr: errors.New("manifest not found")}
	staging, _ := newTestStaging(t, reg, &fakePages{}, &fakeFeeds{}, &fakeSocial{})

	result := staging.DeployToStaging(context.Background(), "missing.yaml")

	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.ErrorMessage == "" {
		t.Error("expected an error message")
	}
	if result.Metadata["error_type"] == nil {
		t.Error("expected error_type metadata")
	}
}

func TestDeployToStagingProgressMilestones(t *testing.T) {
	reg := &fakeRegistry{manifest: testManifest(4)}
	staging, _ := newTestStaging(t, reg, &fakePages{}, &fakeFeeds{}, &fakeSocial{})

	var mu sync.Mutex
	var fractions []float64
	staging.SetProgress(func(message string, fraction float64) {
		mu.Lock()
		fractions = append(fractions, fraction)
		mu.Unlock()
	})

	result := staging.DeployToStaging(context.Background(), "manifest.yaml")
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}

	if len(fractions) < 4 {
		t.Fatalf("expected at least 4 progress reports, got %d", len(fractions))
	}
	if fractions[0] != 0.0 {
		t.Errorf("first report should be 0.0, got %g", fractions[0])
	}
	if fractions[len(fractions)-1] != 1.0 {
		t.Errorf("last report should be 1.0, got %g", fractions[len(fractions)-1])
	}
	for i := 1; i < len(fractions); i++ {
		if fractions[i] < fractions[i-1] {
			t.Errorf("progress went backwards: %g after %g", fractions[i], fractions[i-1])
		}
	}
}

func TestDeployToStagingSocialCountsAttempts(t *testing.T) {
	reg := &fakeRegistry{manifest: testManifest(2)}
	social := &fakeSocial{
		failPlatforms:    map[string]bool{"tiktok": true},
		invalidPlatforms: map[string]bool{"instagram": true},
	}
	staging, _ := newTestStaging(t, reg, &fakePages{}, &fakeFeeds{}, social)

	result := staging.DeployToStaging(context.Background(), "manifest.yaml")
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}

	// 2 episodes x 4 platforms, every attempt counted.
	if result.Counts.SocialPackages != 8 {
		t.Errorf("expected 8 attempts, got %d", result.Counts.SocialPackages)
	}
	// tiktok never generated, instagram generated but invalid.
	if result.Counts.SocialValidated != 4 {
		t.Errorf("expected 4 validated, got %d", result.Counts.SocialValidated)
	}

	stagingPath := result.Metadata["staging_path"].(string)
	if _, err := os.Stat(filepath.Join(stagingPath, "social", "youtube", "ep-1", "upload.json")); err != nil {
		t.Errorf("expected youtube package for ep-1: %v", err)
	}
	if _, err := os.Stat(filepath.Join(stagingPath, "social", "tiktok", "ep-1", "upload.json")); !os.IsNotExist(err) {
		t.Error("failed tiktok package should not be written")
	}
}

func TestDeployToStagingNewsSitemapWindow(t *testing.T) {
	m := testManifest(3)
	// ep-1 and ep-2 are within 48h (published 1h and 2h ago); push ep-3
	// outside the window.
	m.Episodes[2].PublishedAt = m.Episodes[2].PublishedAt.Add(-72 * time.Hour)

	recent := -1
	feeds := &fakeFeeds{newsCount: &recent}
	staging, _ := newTestStaging(t, &fakeRegistry{manifest: m}, &fakePages{}, feeds, &fakeSocial{})

	if result := staging.DeployToStaging(context.Background(), "manifest.yaml"); result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if recent != 2 {
		t.Errorf("expected 2 episodes in the news window, got %d", recent)
	}
}

func TestDeployToStagingContextCancelled(t *testing.T) {
	reg := &fakeRegistry{manifest: testManifest(6)}
	staging, _ := newTestStaging(t, reg, &fakePages{}, &fakeFeeds{}, &fakeSocial{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := staging.DeployToStaging(ctx, "manifest.yaml")

	// Cancellation stops episode batches; the run still completes with
	// whatever was generated.
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.Counts.Episodes != 0 {
		t.Errorf("expected no episodes after cancellation, got %d", result.Counts.Episodes)
	}
}

func TestCleanupOldDeployments(t *testing.T) {
	reg := &fakeRegistry{manifest: testManifest(1)}
	staging, cfg := newTestStaging(t, reg, &fakePages{}, &fakeFeeds{}, &fakeSocial{})

	names := []string{
		"staging-20260101-000000-aaaaaaaa",
		"staging-20260102-000000-bbbbbbbb",
		"staging-20260103-000000-cccccccc",
	}
	for _, name := range names {
		if err := os.MkdirAll(filepath.Join(cfg.StagingRoot, name), 0755); err != nil {
			t.Fatal(err)
		}
	}

	if err := staging.CleanupOldDeployments(2); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.StagingRoot, names[0])); !os.IsNotExist(err) {
		t.Error("oldest deployment should have been removed")
	}
	for _, name := range names[1:] {
		if _, err := os.Stat(filepath.Join(cfg.StagingRoot, name)); err != nil {
			t.Errorf("expected %s to survive cleanup: %v", name, err)
		}
	}
}
