package deploy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"podship/internal/config"
	"podship/internal/content"
)

// pageDirs are the staging subdirectories that hold HTML pages and
// their JSON-LD sidecars.
var pageDirs = []string{"episodes", "series", "hosts"}

// GateSystem runs the five validation gates over a staged tree and
// aggregates a pass/fail verdict. Gate outcomes are never errors; a
// failing gate is a non-passing result the caller can reason about.
type GateSystem struct {
	cfg       config.Config
	registry  content.Registry
	validator content.Validator
	logger    *slog.Logger
}

// NewGateSystem creates a gate system.
func NewGateSystem(cfg config.Config, registry content.Registry, validator content.Validator, logger *slog.Logger) *GateSystem {
	return &GateSystem{
		cfg:       cfg,
		registry:  registry,
		validator: validator,
		logger:    logger,
	}
}

// Run executes every gate against the staged tree and aggregates the
// report. Unless SocialStrictMode is set, the social gate's verdict is
// excluded from the overall result; its errors and warnings still count
// toward the totals.
func (g *GateSystem) Run(stagingPath string, m *content.Manifest) *Report {
	g.logger.Info("Running validation gates", "staging", stagingPath, "build_id", m.BuildID)

	gates := []GateResult{
		g.runHTMLGate(stagingPath),
		g.runSchemaGate(stagingPath),
		g.runLinkGate(stagingPath),
		g.runFeedGate(stagingPath),
		g.runSocialGate(),
	}

	report := &Report{
		Gates:         gates,
		OverallPassed: true,
		GeneratedAt:   time.Now().UTC(),
	}

	for _, gate := range gates {
		report.TotalErrors += len(gate.Errors)
		report.TotalWarnings += len(gate.Warnings)

		if gate.Type == GateSocialPackage && !g.cfg.SocialStrictMode {
			// A social failure alone must never block a web/feed
			// deployment unless strict mode asks for it.
			continue
		}
		if !gate.Passed {
			report.OverallPassed = false
		}
	}

	g.logger.Info("Validation gates finished",
		"overall_passed", report.OverallPassed,
		"errors", report.TotalErrors,
		"warnings", report.TotalWarnings)

	return report
}

// safeResult isolates a panicking validator into a located error so one
// bad item can never take down a gate.
func safeResult(item string, fn func() content.ValidationResult) (res content.ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			res = content.ValidationResult{
				IsValid: false,
				Errors:  []string{fmt.Sprintf("%s: validator panic: %v", item, r)},
			}
		}
	}()
	return fn()
}

// runHTMLGate parses every page. Threshold is an absolute count of
// parse failures; the default zero tolerance fails on the first one.
func (g *GateSystem) runHTMLGate(stagingPath string) GateResult {
	result := GateResult{
		Type:      GateHTMLStructure,
		Threshold: float64(g.cfg.HTMLParseFailureThreshold),
		Metadata:  map[string]interface{}{},
	}

	checked := 0
	failures := 0

	for rel, html := range g.collectPages(stagingPath) {
		checked++
		res := safeResult(rel, func() content.ValidationResult {
			return g.validator.ValidateHTMLStructure(html)
		})
		if !res.IsValid {
			failures++
			result.Errors = append(result.Errors, locate(rel, res.Errors)...)
		}
		result.Warnings = append(result.Warnings, locate(rel, res.Warnings)...)
	}

	result.ActualScore = float64(failures)
	result.Passed = failures <= g.cfg.HTMLParseFailureThreshold
	result.Metadata["pages_checked"] = checked
	result.Metadata["parse_failures"] = failures

	return result
}

// runSchemaGate validates every JSON-LD sidecar. Threshold is a success
// rate in [0, 1]; an empty tree trivially passes.
func (g *GateSystem) runSchemaGate(stagingPath string) GateResult {
	result := GateResult{
		Type:      GateSchemaCompliance,
		Threshold: g.cfg.SchemaSuccessThreshold,
		Metadata:  map[string]interface{}{},
	}

	checked := 0
	valid := 0

	for _, dir := range pageDirs {
		entries, err := os.ReadDir(filepath.Join(stagingPath, dir))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			rel := filepath.Join(dir, entry.Name())
			checked++

			data, err := os.ReadFile(filepath.Join(stagingPath, dir, entry.Name()))
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rel, err))
				continue
			}

			var doc map[string]interface{}
			if err := json.Unmarshal(data, &doc); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: invalid JSON: %v", rel, err))
				continue
			}

			res := safeResult(rel, func() content.ValidationResult {
				return g.validator.ValidateJSONLD(doc)
			})
			if res.IsValid {
				valid++
			} else {
				result.Errors = append(result.Errors, locate(rel, res.Errors)...)
			}
			result.Warnings = append(result.Warnings, locate(rel, res.Warnings)...)
		}
	}

	rate := 1.0
	if checked > 0 {
		rate = float64(valid) / float64(checked)
	}

	result.ActualScore = rate
	result.Passed = rate >= g.cfg.SchemaSuccessThreshold
	result.Metadata["documents_checked"] = checked
	result.Metadata["documents_valid"] = valid

	return result
}

// runLinkGate resolves every internal link across the staged pages.
// Threshold is an absolute broken-link count.
func (g *GateSystem) runLinkGate(stagingPath string) GateResult {
	result := GateResult{
		Type:      GateLinkIntegrity,
		Threshold: float64(g.cfg.BrokenLinkThreshold),
		Metadata:  map[string]interface{}{},
	}

	pages := g.collectPages(stagingPath)

	res := safeResult("link check", func() content.ValidationResult {
		return g.validator.CheckInternalLinks(pages)
	})
	result.Errors = append(result.Errors, res.Errors...)
	result.Warnings = append(result.Warnings, res.Warnings...)

	broken := metadataInt(res.Metadata, "broken_links")
	result.ActualScore = float64(broken)
	result.Passed = broken <= g.cfg.BrokenLinkThreshold
	result.Metadata["pages_checked"] = len(pages)
	result.Metadata["broken_links"] = broken

	return result
}

// runFeedGate validates every RSS feed and XML sitemap under feeds/.
// Threshold is a success rate in [0, 1].
func (g *GateSystem) runFeedGate(stagingPath string) GateResult {
	result := GateResult{
		Type:      GateFeedValidation,
		Threshold: g.cfg.FeedSuccessThreshold,
		Metadata:  map[string]interface{}{},
	}

	checked := 0
	valid := 0

	entries, err := os.ReadDir(filepath.Join(stagingPath, "feeds"))
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".xml") {
				continue
			}
			rel := filepath.Join("feeds", entry.Name())
			checked++

			data, err := os.ReadFile(filepath.Join(stagingPath, "feeds", entry.Name()))
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rel, err))
				continue
			}

			xml := string(data)
			res := safeResult(rel, func() content.ValidationResult {
				if strings.Contains(entry.Name(), "sitemap") {
					return g.validator.ValidateSitemap(xml)
				}
				return g.validator.ValidateRSSFeed(xml)
			})
			if res.IsValid {
				valid++
			} else {
				result.Errors = append(result.Errors, locate(rel, res.Errors)...)
			}
			result.Warnings = append(result.Warnings, locate(rel, res.Warnings)...)
		}
	}

	rate := 1.0
	if checked > 0 {
		rate = float64(valid) / float64(checked)
	}

	result.ActualScore = rate
	result.Passed = rate >= g.cfg.FeedSuccessThreshold
	result.Metadata["feeds_checked"] = checked
	result.Metadata["feeds_valid"] = valid

	return result
}

// runSocialGate delegates to the registry's aggregate social validator.
// When social validation is disabled the gate is skipped entirely and
// reports passed with validation_skipped set.
func (g *GateSystem) runSocialGate() GateResult {
	result := GateResult{
		Type:      GateSocialPackage,
		Threshold: g.cfg.SocialFailureThreshold,
		Metadata:  map[string]interface{}{},
	}

	if !g.cfg.EnableSocialValidation {
		result.Passed = true
		result.Metadata["validation_skipped"] = true
		return result
	}

	res := safeResult("social packages", func() content.ValidationResult {
		return g.registry.ValidateSocialPackages(g.cfg.SocialFailureThreshold)
	})

	result.Passed = res.IsValid
	result.Errors = append(result.Errors, res.Errors...)
	result.Warnings = append(result.Warnings, res.Warnings...)
	result.ActualScore = metadataFloat(res.Metadata, "failure_rate")
	for k, v := range res.Metadata {
		result.Metadata[k] = v
	}

	return result
}

// collectPages reads every generated HTML page keyed by its path
// relative to the staging root.
func (g *GateSystem) collectPages(stagingPath string) map[string]string {
	pages := make(map[string]string)
	for _, dir := range pageDirs {
		entries, err := os.ReadDir(filepath.Join(stagingPath, dir))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".html") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(stagingPath, dir, entry.Name()))
			if err != nil {
				g.logger.Warn("Failed to read page for validation", "page", entry.Name(), "error", err)
				continue
			}
			pages[filepath.Join(dir, entry.Name())] = string(data)
		}
	}
	return pages
}

// Summary renders a report for operators. It is presentation only;
// programmatic decisions use Report fields.
func Summary(r *Report) string {
	var b strings.Builder

	status := "PASSED"
	if !r.OverallPassed {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "Validation %s at %s\n", status, r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Errors: %d, Warnings: %d\n\n", r.TotalErrors, r.TotalWarnings)

	for _, gate := range r.Gates {
		verdict := "pass"
		if !gate.Passed {
			verdict = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s (threshold %g, actual %g)\n", verdict, gate.Type, gate.Threshold, gate.ActualScore)
		for _, e := range gate.Errors {
			fmt.Fprintf(&b, "    error: %s\n", e)
		}
		for _, w := range gate.Warnings {
			fmt.Fprintf(&b, "    warning: %s\n", w)
		}
		if len(gate.Metadata) > 0 {
			fmt.Fprintf(&b, "    metadata: %v\n", gate.Metadata)
		}
	}

	return b.String()
}

func locate(item string, messages []string) []string {
	located := make([]string, 0, len(messages))
	for _, msg := range messages {
		if strings.HasPrefix(msg, item) {
			located = append(located, msg)
		} else {
			located = append(located, fmt.Sprintf("%s: %s", item, msg))
		}
	}
	return located
}

func metadataInt(m map[string]interface{}, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func metadataFloat(m map[string]interface{}, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
