package checks

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"

	"podship/internal/content"
)

// requiredJSONLDTypes are the schema.org types the site emits; anything
// else in a sidecar is flagged.
var requiredJSONLDTypes = map[string]bool{
	"PodcastEpisode": true,
	"PodcastSeries":  true,
	"Person":         true,
	"WebSite":        true,
}

// Validator is the built-in content.Validator. Every method returns a
// verdict, never an error; malformed input is a non-valid result.
type Validator struct{}

// New creates a validator.
func New() *Validator {
	return &Validator{}
}

// ValidateHTMLStructure parses a document and checks the structural
// minimum: a parseable tree with html, head, title and body elements.
func (v *Validator) ValidateHTMLStructure(doc string) content.ValidationResult {
	res := content.ValidationResult{IsValid: true}

	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return content.ValidationResult{
			IsValid: false,
			Errors:  []string{fmt.Sprintf("unparseable HTML: %v", err)},
		}
	}

	found := map[string]bool{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			found[n.Data] = true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	// The parser synthesizes html, head and body even for fragments, so
	// only elements it won't invent are worth requiring.
	for _, required := range []string{"title", "main"} {
		if !found[required] {
			res.IsValid = false
			res.Errors = append(res.Errors, fmt.Sprintf("missing <%s> element", required))
		}
	}
	if !strings.Contains(strings.ToLower(doc), "<!doctype html>") {
		res.Warnings = append(res.Warnings, "missing doctype declaration")
	}

	return res
}

// ValidateJSONLD checks a structured-data document for the @context and
// @type schema.org expects.
func (v *Validator) ValidateJSONLD(doc map[string]interface{}) content.ValidationResult {
	res := content.ValidationResult{IsValid: true}

	context, _ := doc["@context"].(string)
	if !strings.Contains(context, "schema.org") {
		res.IsValid = false
		res.Errors = append(res.Errors, "missing or non-schema.org @context")
	}

	docType, _ := doc["@type"].(string)
	if docType == "" {
		res.IsValid = false
		res.Errors = append(res.Errors, "missing @type")
	} else if !requiredJSONLDTypes[docType] {
		res.Warnings = append(res.Warnings, fmt.Sprintf("unexpected @type %q", docType))
	}

	if name, _ := doc["name"].(string); name == "" {
		res.IsValid = false
		res.Errors = append(res.Errors, "missing name")
	}

	return res
}

// CheckInternalLinks resolves every site-internal href and src across
// the given pages (path relative to the site root -> HTML) against the
// set of pages itself. External links are not followed. The result
// metadata carries "broken_links".
func (v *Validator) CheckInternalLinks(pages map[string]string) content.ValidationResult {
	res := content.ValidationResult{
		IsValid:  true,
		Metadata: map[string]interface{}{},
	}

	// Known targets, with and without a leading slash.
	known := make(map[string]bool, len(pages))
	for rel := range pages {
		known[path.Clean("/"+rel)] = true
	}

	broken := 0
	for rel, doc := range pages {
		for _, link := range extractLinks(doc) {
			target, ok := internalTarget(link)
			if !ok {
				continue
			}
			if !known[path.Clean(target)] {
				broken++
				res.Errors = append(res.Errors, fmt.Sprintf("%s: broken internal link %s", rel, link))
			}
		}
	}

	res.IsValid = broken == 0
	res.Metadata["broken_links"] = broken
	return res
}

// internalTarget reports whether a link points inside the site and, if
// so, its root-relative path. Anchors, mail links and absolute URLs to
// other hosts are external.
func internalTarget(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	if u.Scheme != "" || u.Host != "" {
		return "", false
	}
	if u.Path == "" {
		return "", false
	}
	if !strings.HasPrefix(u.Path, "/") {
		return "/" + u.Path, true
	}
	return u.Path, true
}

func extractLinks(doc string) []string {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil
	}

	var links []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if attr.Key == "href" || attr.Key == "src" {
					links = append(links, attr.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return links
}

// ValidateRSSFeed checks that a document is well-formed XML with an rss
// root carrying a channel title.
func (v *Validator) ValidateRSSFeed(doc string) content.ValidationResult {
	res := content.ValidationResult{IsValid: true}

	var feed struct {
		XMLName xml.Name `xml:"rss"`
		Version string   `xml:"version,attr"`
		Channel struct {
			Title string `xml:"title"`
			Items []struct {
				Title string `xml:"title"`
			} `xml:"item"`
		} `xml:"channel"`
	}

	if err := xml.Unmarshal([]byte(doc), &feed); err != nil {
		return content.ValidationResult{
			IsValid: false,
			Errors:  []string{fmt.Sprintf("malformed RSS: %v", err)},
		}
	}

	if feed.Version != "2.0" {
		res.Warnings = append(res.Warnings, fmt.Sprintf("unexpected RSS version %q", feed.Version))
	}
	if feed.Channel.Title == "" {
		res.IsValid = false
		res.Errors = append(res.Errors, "channel has no title")
	}
	for i, item := range feed.Channel.Items {
		if item.Title == "" {
			res.IsValid = false
			res.Errors = append(res.Errors, fmt.Sprintf("item %d has no title", i))
		}
	}

	return res
}

// ValidateSitemap checks that a document is a well-formed urlset whose
// entries all carry a location.
func (v *Validator) ValidateSitemap(doc string) content.ValidationResult {
	res := content.ValidationResult{IsValid: true}

	var sm struct {
		XMLName xml.Name `xml:"urlset"`
		URLs    []struct {
			Loc string `xml:"loc"`
		} `xml:"url"`
	}

	if err := xml.Unmarshal([]byte(doc), &sm); err != nil {
		return content.ValidationResult{
			IsValid: false,
			Errors:  []string{fmt.Sprintf("malformed sitemap: %v", err)},
		}
	}

	for i, u := range sm.URLs {
		if strings.TrimSpace(u.Loc) == "" {
			res.IsValid = false
			res.Errors = append(res.Errors, fmt.Sprintf("url %d has no loc", i))
		}
	}

	return res
}
