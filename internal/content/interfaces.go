package content

// Registry loads a manifest and answers questions about its content.
// The deployment pipeline consumes it as a narrow collaborator; the
// built-in implementation lives in internal/registry.
type Registry interface {
	// LoadManifest loads and parses the manifest at path.
	// Implementations may support remote sources (e.g. github://).
	LoadManifest(path string) (*Manifest, error)

	// Episodes returns the loaded episodes.
	Episodes() []Episode

	// AllSeries returns the loaded series.
	AllSeries() []Series

	// AllHosts returns the loaded hosts.
	AllHosts() []Host

	// ValidateSocialPackages validates every (episode, platform) social
	// package in aggregate. The result is valid when the failure rate is
	// at or below failureThreshold.
	ValidateSocialPackages(failureThreshold float64) ValidationResult
}

// PageGenerator renders the HTML pages and JSON-LD sidecars for the site.
type PageGenerator interface {
	EpisodePage(m *Manifest, ep Episode) (Page, error)
	SeriesIndex(m *Manifest, s Series, episodes []Episode) (Page, error)
	HostProfile(m *Manifest, h Host, episodes []Episode) (Page, error)

	// RenderCompleteHTML wraps a page body and its JSON-LD into a full
	// standalone HTML document.
	RenderCompleteHTML(page Page) (string, error)
}

// Feed is a generated RSS feed or XML sitemap.
type Feed interface {
	ToXML() (string, error)
}

// FeedGenerator renders the site's feeds and sitemaps.
type FeedGenerator interface {
	SiteRSS(m *Manifest, episodes []Episode) (Feed, error)
	SeriesRSS(m *Manifest, s Series, episodes []Episode) (Feed, error)
	Sitemap(m *Manifest, episodes []Episode, series []Series, hosts []Host) (Feed, error)
	VideoSitemap(m *Manifest, episodes []Episode) (Feed, error)
	NewsSitemap(m *Manifest, episodes []Episode) (Feed, error)
}

// SocialGenerator builds and checks per-platform social upload packages.
type SocialGenerator interface {
	SocialPackage(m *Manifest, ep Episode, platform string) (map[string]interface{}, error)
	ValidateSocialPackage(pkg map[string]interface{}, platform string) ValidationResult
}

// Validator checks staged output item by item. Each method returns a
// result, never an error: a malformed item is a non-valid result.
type Validator interface {
	ValidateHTMLStructure(html string) ValidationResult
	ValidateJSONLD(doc map[string]interface{}) ValidationResult

	// CheckInternalLinks resolves internal links across the given pages
	// (relative path -> HTML). The result metadata carries "broken_links".
	CheckInternalLinks(pages map[string]string) ValidationResult

	ValidateRSSFeed(xml string) ValidationResult
	ValidateSitemap(xml string) ValidationResult
}
