package render

import (
	"encoding/xml"
	"fmt"
	"time"

	"podship/internal/content"
)

// xmlDocument marshals any feed struct into an XML document with the
// standard header.
type xmlDocument struct {
	payload interface{}
}

func (d xmlDocument) ToXML() (string, error) {
	data, err := xml.MarshalIndent(d.payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal feed: %w", err)
	}
	return xml.Header + string(data) + "\n", nil
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length int    `xml:"length,attr"`
}

type rssItem struct {
	Title       string       `xml:"title"`
	Link        string       `xml:"link"`
	GUID        string       `xml:"guid"`
	Description string       `xml:"description"`
	PubDate     string       `xml:"pubDate"`
	Enclosure   rssEnclosure `xml:"enclosure"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type sitemapURL struct {
	Loc     string        `xml:"loc"`
	LastMod string        `xml:"lastmod,omitempty"`
	Video   *sitemapVideo `xml:"video:video,omitempty"`
	News    *sitemapNews  `xml:"news:news,omitempty"`
}

type sitemapVideo struct {
	Title       string `xml:"video:title"`
	Description string `xml:"video:description"`
	ContentLoc  string `xml:"video:content_loc"`
}

type sitemapNews struct {
	PublicationName string `xml:"news:publication>news:name"`
	Language        string `xml:"news:publication>news:language"`
	PublishDate     string `xml:"news:publication_date"`
	Title           string `xml:"news:title"`
}

type sitemap struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	VideoNS string       `xml:"xmlns:video,attr,omitempty"`
	NewsNS  string       `xml:"xmlns:news,attr,omitempty"`
	URLs    []sitemapURL `xml:"url"`
}

const (
	sitemapNS      = "http://www.sitemaps.org/schemas/sitemap/0.9"
	sitemapVideoNS = "http://www.google.com/schemas/sitemap-video/1.1"
	sitemapNewsNS  = "http://www.google.com/schemas/sitemap-news/0.9"
)

// Feeds is the built-in content.FeedGenerator.
type Feeds struct{}

// NewFeeds creates a feed generator.
func NewFeeds() *Feeds {
	return &Feeds{}
}

// SiteRSS builds the site-wide RSS feed over all episodes.
func (f *Feeds) SiteRSS(m *content.Manifest, episodes []content.Episode) (content.Feed, error) {
	return f.rss(m, m.Title, m.Description, m.SiteURL, episodes), nil
}

// SeriesRSS builds one series' RSS feed.
func (f *Feeds) SeriesRSS(m *content.Manifest, s content.Series, episodes []content.Episode) (content.Feed, error) {
	link := fmt.Sprintf("%s/series/%s.html", m.SiteURL, s.ID)
	return f.rss(m, s.Title, s.Description, link, episodes), nil
}

func (f *Feeds) rss(m *content.Manifest, title, description, link string, episodes []content.Episode) content.Feed {
	channel := rssChannel{
		Title:       title,
		Link:        link,
		Description: description,
	}
	for _, ep := range episodes {
		channel.Items = append(channel.Items, rssItem{
			Title:       ep.Title,
			Link:        fmt.Sprintf("%s/episodes/%s.html", m.SiteURL, ep.ID),
			GUID:        fmt.Sprintf("%s/episodes/%s", m.SiteURL, ep.ID),
			Description: ep.Description,
			PubDate:     ep.PublishedAt.Format(time.RFC1123Z),
			Enclosure: rssEnclosure{
				URL:  ep.AudioURL,
				Type: "audio/mpeg",
			},
		})
	}
	return xmlDocument{payload: rssFeed{Version: "2.0", Channel: channel}}
}

// Sitemap builds the main XML sitemap covering every page.
func (f *Feeds) Sitemap(m *content.Manifest, episodes []content.Episode, series []content.Series, hosts []content.Host) (content.Feed, error) {
	sm := sitemap{XMLNS: sitemapNS}

	sm.URLs = append(sm.URLs, sitemapURL{Loc: m.SiteURL})
	for _, ep := range episodes {
		sm.URLs = append(sm.URLs, sitemapURL{
			Loc:     fmt.Sprintf("%s/episodes/%s.html", m.SiteURL, ep.ID),
			LastMod: ep.PublishedAt.Format("2006-01-02"),
		})
	}
	for _, s := range series {
		sm.URLs = append(sm.URLs, sitemapURL{Loc: fmt.Sprintf("%s/series/%s.html", m.SiteURL, s.ID)})
	}
	for _, h := range hosts {
		sm.URLs = append(sm.URLs, sitemapURL{Loc: fmt.Sprintf("%s/hosts/%s.html", m.SiteURL, h.ID)})
	}

	return xmlDocument{payload: sm}, nil
}

// VideoSitemap builds a video sitemap over the episodes that carry a
// video URL.
func (f *Feeds) VideoSitemap(m *content.Manifest, episodes []content.Episode) (content.Feed, error) {
	sm := sitemap{XMLNS: sitemapNS, VideoNS: sitemapVideoNS}

	for _, ep := range episodes {
		if ep.VideoURL == "" {
			continue
		}
		sm.URLs = append(sm.URLs, sitemapURL{
			Loc: fmt.Sprintf("%s/episodes/%s.html", m.SiteURL, ep.ID),
			Video: &sitemapVideo{
				Title:       ep.Title,
				Description: ep.Description,
				ContentLoc:  ep.VideoURL,
			},
		})
	}

	return xmlDocument{payload: sm}, nil
}

// NewsSitemap builds a news sitemap. Callers pass only the episodes
// inside the freshness window; everything given is included.
func (f *Feeds) NewsSitemap(m *content.Manifest, episodes []content.Episode) (content.Feed, error) {
	sm := sitemap{XMLNS: sitemapNS, NewsNS: sitemapNewsNS}

	for _, ep := range episodes {
		sm.URLs = append(sm.URLs, sitemapURL{
			Loc: fmt.Sprintf("%s/episodes/%s.html", m.SiteURL, ep.ID),
			News: &sitemapNews{
				PublicationName: m.Title,
				Language:        "en",
				PublishDate:     ep.PublishedAt.Format(time.RFC3339),
				Title:           ep.Title,
			},
		})
	}

	return xmlDocument{payload: sm}, nil
}
