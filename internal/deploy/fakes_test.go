package deploy

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"podship/internal/config"
	"podship/internal/content"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	root := t.TempDir()
	cfg.StagingRoot = root + "/staging"
	cfg.ProductionRoot = root + "/production"
	cfg.BackupRoot = root + "/backups"
	cfg.BatchSize = 2
	cfg.MaxConcurrentWorkers = 2
	cfg.BatchTimeoutSeconds = 30
	return cfg
}

func testManifest(episodes int) *content.Manifest {
	m := &content.Manifest{
		BuildID: "build-test",
		SiteURL: "https://podcast.example.com",
		Title:   "Test Podcast",
		Series:  []content.Series{{ID: "s1", Title: "Season One"}},
		Hosts:   []content.Host{{ID: "h1", Name: "Alex Rivera"}},
	}
	for i := 1; i <= episodes; i++ {
		m.Episodes = append(m.Episodes, content.Episode{
			ID:          fmt.Sprintf("ep-%d", i),
			Title:       fmt.Sprintf("Episode %d", i),
			SeriesID:    "s1",
			HostIDs:     []string{"h1"},
			AudioURL:    fmt.Sprintf("https://cdn.example.com/ep-%d.mp3", i),
			PublishedAt: time.Now().UTC().Add(-time.Duration(i) * time.Hour),
		})
	}
	return m
}

type fakeRegistry struct {
	manifest     *content.Manifest
	loadErr      error
	socialResult content.ValidationResult
}

func (f *fakeRegistry) LoadManifest(path string) (*content.Manifest, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.manifest, nil
}

func (f *fakeRegistry) Episodes() []content.Episode  { return f.manifest.Episodes }
func (f *fakeRegistry) AllSeries() []content.Series  { return f.manifest.Series }
func (f *fakeRegistry) AllHosts() []content.Host     { return f.manifest.Hosts }

func (f *fakeRegistry) ValidateSocialPackages(failureThreshold float64) content.ValidationResult {
	if f.socialResult.Metadata == nil {
		return content.ValidationResult{IsValid: true, Metadata: map[string]interface{}{"failure_rate": 0.0}}
	}
	return f.socialResult
}

type fakePages struct {
	failEpisodes map[string]bool
}

func (f *fakePages) EpisodePage(m *content.Manifest, ep content.Episode) (content.Page, error) {
	if f.failEpisodes[ep.ID] {
		return content.Page{}, fmt.Errorf("injected failure for %s", ep.ID)
	}
	return content.Page{
		Title: ep.Title,
		HTML:  fmt.Sprintf("<main><h1>%s</h1><a href=\"/series/s1.html\">series</a></main>", ep.Title),
		JSONLD: map[string]interface{}{
			"@context": "https://schema.org",
			"@type":    "PodcastEpisode",
			"name":     ep.Title,
		},
	}, nil
}

func (f *fakePages) SeriesIndex(m *content.Manifest, s content.Series, episodes []content.Episode) (content.Page, error) {
	return content.Page{
		Title:  s.Title,
		HTML:   fmt.Sprintf("<main><h1>%s</h1></main>", s.Title),
		JSONLD: map[string]interface{}{"@context": "https://schema.org", "@type": "PodcastSeries", "name": s.Title},
	}, nil
}

func (f *fakePages) HostProfile(m *content.Manifest, h content.Host, episodes []content.Episode) (content.Page, error) {
	return content.Page{
		Title:  h.Name,
		HTML:   fmt.Sprintf("<main><h1>%s</h1></main>", h.Name),
		JSONLD: map[string]interface{}{"@context": "https://schema.org", "@type": "Person", "name": h.Name},
	}, nil
}

func (f *fakePages) RenderCompleteHTML(page content.Page) (string, error) {
	return fmt.Sprintf("<!DOCTYPE html><html><head><title>%s</title></head><body>%s</body></html>",
		page.Title, page.HTML), nil
}

type fakeFeed string

func (f fakeFeed) ToXML() (string, error) { return string(f), nil }

type fakeFeeds struct {
	failSiteRSS bool
	newsCount   *int // records how many episodes the news sitemap saw
}

func (f *fakeFeeds) SiteRSS(m *content.Manifest, episodes []content.Episode) (content.Feed, error) {
	if f.failSiteRSS {
		return nil, fmt.Errorf("injected rss failure")
	}
	return fakeFeed(`<?xml version="1.0"?><rss version="2.0"><channel><title>site</title></channel></rss>`), nil
}

func (f *fakeFeeds) SeriesRSS(m *content.Manifest, s content.Series, episodes []content.Episode) (content.Feed, error) {
	return fakeFeed(`<?xml version="1.0"?><rss version="2.0"><channel><title>` + s.Title + `</title></channel></rss>`), nil
}

func (f *fakeFeeds) Sitemap(m *content.Manifest, episodes []content.Episode, series []content.Series, hosts []content.Host) (content.Feed, error) {
	return fakeFeed(`<?xml version="1.0"?><urlset></urlset>`), nil
}

func (f *fakeFeeds) VideoSitemap(m *content.Manifest, episodes []content.Episode) (content.Feed, error) {
	return fakeFeed(`<?xml version="1.0"?><urlset></urlset>`), nil
}

func (f *fakeFeeds) NewsSitemap(m *content.Manifest, episodes []content.Episode) (content.Feed, error) {
	if f.newsCount != nil {
		*f.newsCount = len(episodes)
	}
	return fakeFeed(`<?xml version="1.0"?><urlset></urlset>`), nil
}

type fakeSocial struct {
	failPlatforms    map[string]bool
	invalidPlatforms map[string]bool
}

func (f *fakeSocial) SocialPackage(m *content.Manifest, ep content.Episode, platform string) (map[string]interface{}, error) {
	if f.failPlatforms[platform] {
		return nil, fmt.Errorf("injected social failure for %s", platform)
	}
	return map[string]interface{}{
		"platform": platform,
		"episode":  ep.ID,
		"caption":  ep.Title,
	}, nil
}

func (f *fakeSocial) ValidateSocialPackage(pkg map[string]interface{}, platform string) content.ValidationResult {
	if f.invalidPlatforms[platform] {
		return content.ValidationResult{IsValid: false, Errors: []string{"caption too long"}}
	}
	return content.ValidationResult{IsValid: true}
}

// fakeValidator flags items containing sentinel markers so tests can
// corrupt exactly one artifact and watch one gate flip.
type fakeValidator struct{}

func (fakeValidator) ValidateHTMLStructure(html string) content.ValidationResult {
	if strings.Contains(html, "CORRUPT") {
		return content.ValidationResult{IsValid: false, Errors: []string{"unclosed element"}}
	}
	return content.ValidationResult{IsValid: true}
}

func (fakeValidator) ValidateJSONLD(doc map[string]interface{}) content.ValidationResult {
	if _, ok := doc["@type"]; !ok {
		return content.ValidationResult{IsValid: false, Errors: []string{"missing @type"}}
	}
	return content.ValidationResult{IsValid: true}
}

func (fakeValidator) CheckInternalLinks(pages map[string]string) content.ValidationResult {
	broken := 0
	for _, html := range pages {
		broken += strings.Count(html, "BROKEN-LINK")
	}
	res := content.ValidationResult{
		IsValid:  broken == 0,
		Metadata: map[string]interface{}{"broken_links": broken},
	}
	if broken > 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("%d broken internal links", broken))
	}
	return res
}

func (fakeValidator) ValidateRSSFeed(xml string) content.ValidationResult {
	if !strings.Contains(xml, "<rss") {
		return content.ValidationResult{IsValid: false, Errors: []string{"not an RSS document"}}
	}
	return content.ValidationResult{IsValid: true}
}

func (fakeValidator) ValidateSitemap(xml string) content.ValidationResult {
	if !strings.Contains(xml, "<urlset") {
		return content.ValidationResult{IsValid: false, Errors: []string{"not a sitemap"}}
	}
	return content.ValidationResult{IsValid: true}
}

// recordingAnalytics captures analytics calls; any method can be made
// to fail.
type recordingAnalytics struct {
	mu       sync.Mutex
	started  []string
	updates  []string
	complete []string
	failAll  bool
}

func (r *recordingAnalytics) StartDeploymentTracking(buildID string, counts content.ContentCounts) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return fmt.Errorf("analytics store unreachable")
	}
	r.started = append(r.started, buildID)
	return nil
}

func (r *recordingAnalytics) UpdateDeploymentMetrics(buildID string, errorCount, warningCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return fmt.Errorf("analytics store unreachable")
	}
	r.updates = append(r.updates, fmt.Sprintf("%s:%d:%d", buildID, errorCount, warningCount))
	return nil
}

func (r *recordingAnalytics) CompleteDeploymentTracking(buildID string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return fmt.Errorf("analytics store unreachable")
	}
	r.complete = append(r.complete, fmt.Sprintf("%s:%v", buildID, success))
	return nil
}
