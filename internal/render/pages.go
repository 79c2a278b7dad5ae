package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"podship/internal/content"
)

var episodeTmpl = template.Must(template.New("episode").Parse(`<main>
  <article class="episode">
    <h1>{{.Episode.Title}}</h1>
    <p class="description">{{.Episode.Description}}</p>
    <audio controls src="{{.Episode.AudioURL}}"></audio>
{{- if .Episode.VideoURL}}
    <a class="video" href="{{.Episode.VideoURL}}">Watch the video</a>
{{- end}}
    <dl>
      <dt>Published</dt><dd>{{.Published}}</dd>
      <dt>Duration</dt><dd>{{.Duration}}</dd>
    </dl>
{{- if .Episode.SeriesID}}
    <p><a href="/series/{{.Episode.SeriesID}}.html">All episodes in this series</a></p>
{{- end}}
{{- range .Episode.HostIDs}}
    <p><a href="/hosts/{{.}}.html">Host profile</a></p>
{{- end}}
  </article>
</main>`))

var seriesTmpl = template.Must(template.New("series").Parse(`<main>
  <section class="series">
    <h1>{{.Series.Title}}</h1>
    <p class="description">{{.Series.Description}}</p>
    <ol class="episodes">
{{- range .Episodes}}
      <li><a href="/episodes/{{.ID}}.html">{{.Title}}</a></li>
{{- end}}
    </ol>
  </section>
</main>`))

var hostTmpl = template.Must(template.New("host").Parse(`<main>
  <section class="host">
    <h1>{{.Host.Name}}</h1>
    <p class="bio">{{.Host.Bio}}</p>
    <ul class="appearances">
{{- range .Episodes}}
      <li><a href="/episodes/{{.ID}}.html">{{.Title}}</a></li>
{{- end}}
    </ul>
  </section>
</main>`))

var documentTmpl = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{.Title}}</title>
  <script type="application/ld+json">
{{.JSONLD}}
  </script>
</head>
<body>
{{.Body}}
</body>
</html>`))

// Pages is the built-in content.PageGenerator. Pages render from
// compiled templates; JSON-LD sidecars follow schema.org podcast types.
type Pages struct{}

// NewPages creates a page generator.
func NewPages() *Pages {
	return &Pages{}
}

// EpisodePage renders one episode's page body and JSON-LD document.
func (p *Pages) EpisodePage(m *content.Manifest, ep content.Episode) (content.Page, error) {
	var buf bytes.Buffer
	err := episodeTmpl.Execute(&buf, struct {
		Episode   content.Episode
		Published string
		Duration  string
	}{
		Episode:   ep,
		Published: ep.PublishedAt.Format("January 2, 2006"),
		Duration:  formatDuration(ep.Duration),
	})
	if err != nil {
		return content.Page{}, fmt.Errorf("failed to render episode %s: %w", ep.ID, err)
	}

	jsonld := map[string]interface{}{
		"@context":      "https://schema.org",
		"@type":         "PodcastEpisode",
		"name":          ep.Title,
		"description":   ep.Description,
		"url":           fmt.Sprintf("%s/episodes/%s.html", m.SiteURL, ep.ID),
		"datePublished": ep.PublishedAt.Format(time.RFC3339),
		"associatedMedia": map[string]interface{}{
			"@type":      "MediaObject",
			"contentUrl": ep.AudioURL,
		},
	}
	if ep.SeriesID != "" {
		jsonld["partOfSeries"] = map[string]interface{}{
			"@type": "PodcastSeries",
			"url":   fmt.Sprintf("%s/series/%s.html", m.SiteURL, ep.SeriesID),
		}
	}

	return content.Page{Title: ep.Title, HTML: buf.String(), JSONLD: jsonld}, nil
}

// SeriesIndex renders a series landing page listing its episodes.
func (p *Pages) SeriesIndex(m *content.Manifest, s content.Series, episodes []content.Episode) (content.Page, error) {
	var buf bytes.Buffer
	err := seriesTmpl.Execute(&buf, struct {
		Series   content.Series
		Episodes []content.Episode
	}{Series: s, Episodes: episodes})
	if err != nil {
		return content.Page{}, fmt.Errorf("failed to render series %s: %w", s.ID, err)
	}

	return content.Page{
		Title: s.Title,
		HTML:  buf.String(),
		JSONLD: map[string]interface{}{
			"@context":    "https://schema.org",
			"@type":       "PodcastSeries",
			"name":        s.Title,
			"description": s.Description,
			"url":         fmt.Sprintf("%s/series/%s.html", m.SiteURL, s.ID),
		},
	}, nil
}

// HostProfile renders a host's profile page with their appearances.
func (p *Pages) HostProfile(m *content.Manifest, h content.Host, episodes []content.Episode) (content.Page, error) {
	var buf bytes.Buffer
	err := hostTmpl.Execute(&buf, struct {
		Host     content.Host
		Episodes []content.Episode
	}{Host: h, Episodes: episodes})
	if err != nil {
		return content.Page{}, fmt.Errorf("failed to render host %s: %w", h.ID, err)
	}

	return content.Page{
		Title: h.Name,
		HTML:  buf.String(),
		JSONLD: map[string]interface{}{
			"@context":    "https://schema.org",
			"@type":       "Person",
			"name":        h.Name,
			"description": h.Bio,
			"url":         fmt.Sprintf("%s/hosts/%s.html", m.SiteURL, h.ID),
		},
	}, nil
}

// RenderCompleteHTML wraps a page body and its JSON-LD into a full
// standalone document.
func (p *Pages) RenderCompleteHTML(page content.Page) (string, error) {
	jsonld, err := json.MarshalIndent(page.JSONLD, "  ", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal json-ld: %w", err)
	}

	var buf bytes.Buffer
	err = documentTmpl.Execute(&buf, struct {
		Title  string
		JSONLD string
		Body   string
	}{Title: page.Title, JSONLD: string(jsonld), Body: page.HTML})
	if err != nil {
		return "", fmt.Errorf("failed to render document: %w", err)
	}
	return buf.String(), nil
}

func formatDuration(seconds int) string {
	if seconds <= 0 {
		return "unknown"
	}
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
