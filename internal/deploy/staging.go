package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"podship/internal/config"
	"podship/internal/content"
	"podship/pkg/fileutil"
)

// ManifestFileName is the manifest snapshot written at the root of each
// staging deployment so promotion can reload it later.
const ManifestFileName = "manifest.json"

// stagingSubdirs is the fixed directory layout of a staging deployment.
var stagingSubdirs = []string{"episodes", "series", "hosts", "feeds", "assets", "social"}

// ProgressFunc receives coarse progress milestones: a message and a
// fraction in [0, 1].
type ProgressFunc func(message string, fraction float64)

// Staging generates every artifact for a manifest into an isolated,
// timestamped staging directory. Episode pages are generated in batches
// on a bounded worker pool; a single item's failure is logged and
// excluded from the counts, never aborting the run.
type Staging struct {
	cfg      config.Config
	registry content.Registry
	pages    content.PageGenerator
	feeds    content.FeedGenerator
	social   content.SocialGenerator
	logger   *slog.Logger
	progress ProgressFunc
}

// NewStaging creates a staging deployer.
func NewStaging(cfg config.Config, registry content.Registry, pages content.PageGenerator, feeds content.FeedGenerator, social content.SocialGenerator, logger *slog.Logger) *Staging {
	return &Staging{
		cfg:      cfg,
		registry: registry,
		pages:    pages,
		feeds:    feeds,
		social:   social,
		logger:   logger,
	}
}

// SetProgress installs an optional progress callback.
func (s *Staging) SetProgress(fn ProgressFunc) {
	s.progress = fn
}

func (s *Staging) report(message string, fraction float64) {
	if s.progress != nil {
		s.progress(message, fraction)
	}
}

// Path returns the on-disk location of a staging deployment id.
func (s *Staging) Path(deploymentID string) string {
	return filepath.Join(s.cfg.StagingRoot, deploymentID)
}

// DeployToStaging generates all artifacts for the manifest at
// manifestPath into a fresh staging directory. It returns a COMPLETED
// result with content counts, or a FAILED result if manifest loading or
// directory preparation itself fails.
func (s *Staging) DeployToStaging(ctx context.Context, manifestPath string) *Result {
	id := fmt.Sprintf("staging-%s-%s",
		time.Now().UTC().Format("20060102-150405"),
		uuid.NewString()[:8])

	result := &Result{
		ID:          id,
		Status:      StatusInProgress,
		Environment: EnvStaging,
		StartedAt:   time.Now().UTC(),
		Metadata:    map[string]interface{}{},
	}

	s.report("Starting staging deployment", 0.0)
	s.logger.Info("Starting staging deployment", "id", id, "manifest", manifestPath)

	m, err := s.registry.LoadManifest(manifestPath)
	if err != nil {
		return s.fail(result, fmt.Sprintf("failed to load manifest %s: %v", manifestPath, err), err)
	}
	result.Metadata["manifest_build_id"] = m.BuildID

	stagingPath := s.Path(id)
	if err := s.prepareDirectories(stagingPath, m); err != nil {
		return s.fail(result, fmt.Sprintf("failed to prepare staging directory: %v", err), err)
	}
	result.Metadata["staging_path"] = stagingPath

	s.report("Manifest loaded", 0.1)

	counts := content.ContentCounts{}

	episodes := s.registry.Episodes()
	counts.Episodes = s.generateEpisodes(ctx, m, stagingPath, episodes)

	// Series and host pages depend on the completed episode list, so
	// they strictly follow episode generation.
	counts.Series = s.generateSeries(m, stagingPath, episodes)
	counts.Hosts = s.generateHosts(m, stagingPath, episodes)
	counts.PagesGenerated = counts.Episodes + counts.Series + counts.Hosts

	s.report("Generating feeds", 0.8)
	counts.FeedsGenerated = s.generateFeeds(m, stagingPath, episodes)

	if s.cfg.EnableSocialValidation {
		counts.SocialPackages, counts.SocialValidated = s.generateSocialPackages(m, stagingPath, episodes)
	}

	result.Status = StatusCompleted
	result.Counts = counts
	result.CompletedAt = time.Now().UTC()

	// Snapshot the final counts next to the manifest so promotion can
	// carry them into history without re-counting the tree.
	if data, err := json.MarshalIndent(counts, "", "  "); err == nil {
		if err := fileutil.WriteFileAtomic(filepath.Join(stagingPath, CountsFileName), data, 0644); err != nil {
			s.logger.Warn("Failed to write counts snapshot", "id", id, "error", err)
		}
	}

	s.report("Staging deployment complete", 1.0)
	s.logger.Info("Staging deployment complete",
		"id", id,
		"episodes", counts.Episodes,
		"pages", counts.PagesGenerated,
		"feeds", counts.FeedsGenerated)

	return result
}

func (s *Staging) fail(result *Result, message string, cause error) *Result {
	result.Status = StatusFailed
	result.ErrorMessage = message
	result.CompletedAt = time.Now().UTC()
	result.Metadata["error_type"] = fmt.Sprintf("%T", cause)
	s.logger.Error("Staging deployment failed", "id", result.ID, "error", message)
	return result
}

func (s *Staging) prepareDirectories(stagingPath string, m *content.Manifest) error {
	for _, sub := range stagingSubdirs {
		if err := os.MkdirAll(filepath.Join(stagingPath, sub), 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", sub, err)
		}
	}

	// Snapshot the manifest so promotion can reload it without the
	// original source.
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest snapshot: %w", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(stagingPath, ManifestFileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest snapshot: %w", err)
	}

	return nil
}

// generateEpisodes renders episode pages in fixed-size batches. Each
// batch submits one task per episode to a worker pool bounded by
// MaxConcurrentWorkers and waits until the batch finishes or the batch
// timeout elapses. A timed-out batch is logged and abandoned; items that
// already completed in it are kept. Returns the number of episodes
// successfully generated.
func (s *Staging) generateEpisodes(ctx context.Context, m *content.Manifest, stagingPath string, episodes []content.Episode) int {
	total := len(episodes)
	if total == 0 {
		return 0
	}

	timeout := time.Duration(s.cfg.BatchTimeoutSeconds) * time.Second
	sem := make(chan struct{}, s.cfg.MaxConcurrentWorkers)

	generated := 0
	processed := 0

	for start := 0; start < total; start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > total {
			end = total
		}
		batch := episodes[start:end]

		select {
		case <-ctx.Done():
			s.logger.Warn("Context cancelled, stopping episode generation", "generated", generated)
			return generated
		default:
		}

		// Buffered to batch size so abandoned tasks can still finish
		// their send and exit.
		results := make(chan bool, len(batch))
		for _, ep := range batch {
			ep := ep
			go func() {
				sem <- struct{}{}
				defer func() { <-sem }()
				results <- s.generateEpisodePage(m, stagingPath, ep)
			}()
		}

		timer := time.NewTimer(timeout)
	collect:
		for i := 0; i < len(batch); i++ {
			select {
			case ok := <-results:
				if ok {
					generated++
				}
			case <-timer.C:
				s.logger.Warn("Batch timed out, abandoning remaining tasks",
					"batch_start", start,
					"pending", len(batch)-i)
				break collect
			}
		}
		timer.Stop()

		processed += len(batch)
		s.report(fmt.Sprintf("Generated %d/%d episodes", processed, total),
			0.1+0.7*float64(processed)/float64(total))
	}

	return generated
}

func (s *Staging) generateEpisodePage(m *content.Manifest, stagingPath string, ep content.Episode) bool {
	page, err := s.pages.EpisodePage(m, ep)
	if err != nil {
		s.logger.Warn("Failed to generate episode page", "episode", ep.ID, "error", err)
		return false
	}
	if err := s.writePage(filepath.Join(stagingPath, "episodes", ep.ID), page); err != nil {
		s.logger.Warn("Failed to write episode page", "episode", ep.ID, "error", err)
		return false
	}
	return true
}

func (s *Staging) generateSeries(m *content.Manifest, stagingPath string, episodes []content.Episode) int {
	generated := 0
	for _, series := range s.registry.AllSeries() {
		page, err := s.pages.SeriesIndex(m, series, episodesOfSeries(episodes, series.ID))
		if err != nil {
			s.logger.Warn("Failed to generate series index", "series", series.ID, "error", err)
			continue
		}
		if err := s.writePage(filepath.Join(stagingPath, "series", series.ID), page); err != nil {
			s.logger.Warn("Failed to write series index", "series", series.ID, "error", err)
			continue
		}
		generated++
	}
	return generated
}

func (s *Staging) generateHosts(m *content.Manifest, stagingPath string, episodes []content.Episode) int {
	generated := 0
	for _, host := range s.registry.AllHosts() {
		page, err := s.pages.HostProfile(m, host, episodesOfHost(episodes, host.ID))
		if err != nil {
			s.logger.Warn("Failed to generate host profile", "host", host.ID, "error", err)
			continue
		}
		if err := s.writePage(filepath.Join(stagingPath, "hosts", host.ID), page); err != nil {
			s.logger.Warn("Failed to write host profile", "host", host.ID, "error", err)
			continue
		}
		generated++
	}
	return generated
}

// writePage writes the full HTML document and the JSON-LD sidecar for a
// page, as <base>.html and <base>.json.
func (s *Staging) writePage(base string, page content.Page) error {
	html, err := s.pages.RenderCompleteHTML(page)
	if err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}
	if err := os.WriteFile(base+".html", []byte(html), 0644); err != nil {
		return fmt.Errorf("failed to write html: %w", err)
	}

	jsonld, err := json.MarshalIndent(page.JSONLD, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal json-ld: %w", err)
	}
	if err := os.WriteFile(base+".json", jsonld, 0644); err != nil {
		return fmt.Errorf("failed to write json-ld: %w", err)
	}

	return nil
}

func (s *Staging) generateFeeds(m *content.Manifest, stagingPath string, episodes []content.Episode) int {
	generated := 0

	write := func(name string, feed content.Feed, err error) {
		if err != nil {
			s.logger.Warn("Failed to generate feed", "feed", name, "error", err)
			return
		}
		xml, err := feed.ToXML()
		if err != nil {
			s.logger.Warn("Failed to serialize feed", "feed", name, "error", err)
			return
		}
		path := filepath.Join(stagingPath, "feeds", name)
		if err := os.WriteFile(path, []byte(xml), 0644); err != nil {
			s.logger.Warn("Failed to write feed", "feed", name, "error", err)
			return
		}
		generated++
	}

	feed, err := s.feeds.SiteRSS(m, episodes)
	write("rss.xml", feed, err)

	for _, series := range s.registry.AllSeries() {
		feed, err := s.feeds.SeriesRSS(m, series, episodesOfSeries(episodes, series.ID))
		write(fmt.Sprintf("series-%s.xml", series.ID), feed, err)
	}

	sitemap, err := s.feeds.Sitemap(m, episodes, s.registry.AllSeries(), s.registry.AllHosts())
	write("sitemap.xml", sitemap, err)

	video, err := s.feeds.VideoSitemap(m, episodes)
	write("video-sitemap.xml", video, err)

	// The news sitemap only carries items published within the last 48
	// hours.
	news, err := s.feeds.NewsSitemap(m, recentEpisodes(episodes, 48*time.Hour))
	write("news-sitemap.xml", news, err)

	return generated
}

// generateSocialPackages builds one upload package per (episode,
// platform). Every attempt counts toward the total, so the failure rate
// derived from it reflects attempts rather than successes. Returns
// (attempts, validated).
func (s *Staging) generateSocialPackages(m *content.Manifest, stagingPath string, episodes []content.Episode) (int, int) {
	attempts := 0
	validated := 0

	for _, ep := range episodes {
		for _, platform := range content.SocialPlatforms {
			attempts++

			pkg, err := s.social.SocialPackage(m, ep, platform)
			if err != nil {
				s.logger.Warn("Failed to generate social package",
					"episode", ep.ID, "platform", platform, "error", err)
				continue
			}

			dir := filepath.Join(stagingPath, "social", platform, ep.ID)
			if err := os.MkdirAll(dir, 0755); err != nil {
				s.logger.Warn("Failed to create social package directory",
					"episode", ep.ID, "platform", platform, "error", err)
				continue
			}
			data, err := json.MarshalIndent(pkg, "", "  ")
			if err != nil {
				s.logger.Warn("Failed to marshal social package",
					"episode", ep.ID, "platform", platform, "error", err)
				continue
			}
			if err := os.WriteFile(filepath.Join(dir, "upload.json"), data, 0644); err != nil {
				s.logger.Warn("Failed to write social package",
					"episode", ep.ID, "platform", platform, "error", err)
				continue
			}

			if vr := s.social.ValidateSocialPackage(pkg, platform); vr.IsValid {
				validated++
			}
		}
	}

	return attempts, validated
}

// CleanupOldDeployments removes old staging directories, keeping the
// most recent keepCount. Staging trees are never auto-deleted after
// promotion; this is the explicit cleanup path.
func (s *Staging) CleanupOldDeployments(keepCount int) error {
	entries, err := os.ReadDir(s.cfg.StagingRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read staging root: %w", err)
	}

	var deployments []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "staging-") {
			deployments = append(deployments, entry.Name())
		}
	}

	if len(deployments) <= keepCount {
		return nil
	}

	// Names embed a UTC timestamp, so a lexicographic sort is
	// chronological. Newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(deployments)))

	for _, name := range deployments[keepCount:] {
		path := filepath.Join(s.cfg.StagingRoot, name)
		if !fileutil.WithinRoot(s.cfg.StagingRoot, path) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("Failed to remove old staging deployment", "deployment", name, "error", err)
		}
	}

	return nil
}

func episodesOfSeries(episodes []content.Episode, seriesID string) []content.Episode {
	var out []content.Episode
	for _, ep := range episodes {
		if ep.SeriesID == seriesID {
			out = append(out, ep)
		}
	}
	return out
}

func episodesOfHost(episodes []content.Episode, hostID string) []content.Episode {
	var out []content.Episode
	for _, ep := range episodes {
		for _, id := range ep.HostIDs {
			if id == hostID {
				out = append(out, ep)
				break
			}
		}
	}
	return out
}

func recentEpisodes(episodes []content.Episode, window time.Duration) []content.Episode {
	cutoff := time.Now().Add(-window)
	var out []content.Episode
	for _, ep := range episodes {
		if ep.PublishedAt.After(cutoff) {
			out = append(out, ep)
		}
	}
	return out
}
