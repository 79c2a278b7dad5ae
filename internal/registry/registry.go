package registry

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"podship/internal/content"
)

// Registry is the built-in content.Registry. It loads a YAML manifest
// from disk or from a github:// location and answers content queries
// against the loaded snapshot. Not safe for concurrent mutation; load
// once, then read.
type Registry struct {
	social   content.SocialGenerator
	logger   *slog.Logger
	manifest *content.Manifest
}

// New creates a registry. The social generator is consulted by
// ValidateSocialPackages; it may be nil if social validation is never
// used.
func New(social content.SocialGenerator, logger *slog.Logger) *Registry {
	return &Registry{
		social: social,
		logger: logger,
	}
}

// LoadManifest reads and parses the manifest at path. Paths of the form
// github://owner/repo/path/to/manifest.yaml are fetched through the
// GitHub contents API; everything else is a local file.
func (r *Registry) LoadManifest(path string) (*content.Manifest, error) {
	var data []byte
	var err error

	if strings.HasPrefix(path, githubScheme) {
		data, err = fetchGitHubFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m content.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if problems := Validate(&m); len(problems) > 0 {
		return nil, fmt.Errorf("manifest validation failed:\n%s", strings.Join(problems, "\n"))
	}

	r.manifest = &m
	r.logger.Info("Manifest loaded",
		"build_id", m.BuildID,
		"episodes", len(m.Episodes),
		"series", len(m.Series),
		"hosts", len(m.Hosts))

	return &m, nil
}

// Validate checks manifest integrity and returns a list of problems.
// An empty list means the manifest is usable.
func Validate(m *content.Manifest) []string {
	var problems []string

	if m.BuildID == "" {
		problems = append(problems, "  - build_id is required")
	}
	if m.SiteURL == "" {
		problems = append(problems, "  - site_url is required")
	}

	seriesIDs := make(map[string]bool, len(m.Series))
	for i, s := range m.Series {
		if s.ID == "" {
			problems = append(problems, fmt.Sprintf("  - series[%d] has no id", i))
			continue
		}
		if seriesIDs[s.ID] {
			problems = append(problems, fmt.Sprintf("  - duplicate series id %q", s.ID))
		}
		seriesIDs[s.ID] = true
	}

	hostIDs := make(map[string]bool, len(m.Hosts))
	for i, h := range m.Hosts {
		if h.ID == "" {
			problems = append(problems, fmt.Sprintf("  - hosts[%d] has no id", i))
			continue
		}
		if hostIDs[h.ID] {
			problems = append(problems, fmt.Sprintf("  - duplicate host id %q", h.ID))
		}
		hostIDs[h.ID] = true
	}

	episodeIDs := make(map[string]bool, len(m.Episodes))
	for i, ep := range m.Episodes {
		if ep.ID == "" {
			problems = append(problems, fmt.Sprintf("  - episodes[%d] has no id", i))
			continue
		}
		if episodeIDs[ep.ID] {
			problems = append(problems, fmt.Sprintf("  - duplicate episode id %q", ep.ID))
		}
		episodeIDs[ep.ID] = true

		if ep.AudioURL == "" {
			problems = append(problems, fmt.Sprintf("  - episode %q has no audio_url", ep.ID))
		}
		if ep.SeriesID != "" && !seriesIDs[ep.SeriesID] {
			problems = append(problems, fmt.Sprintf("  - episode %q references unknown series %q", ep.ID, ep.SeriesID))
		}
		for _, hid := range ep.HostIDs {
			if !hostIDs[hid] {
				problems = append(problems, fmt.Sprintf("  - episode %q references unknown host %q", ep.ID, hid))
			}
		}
	}

	return problems
}

// Episodes returns the loaded episodes.
func (r *Registry) Episodes() []content.Episode {
	if r.manifest == nil {
		return nil
	}
	return r.manifest.Episodes
}

// AllSeries returns the loaded series.
func (r *Registry) AllSeries() []content.Series {
	if r.manifest == nil {
		return nil
	}
	return r.manifest.Series
}

// AllHosts returns the loaded hosts.
func (r *Registry) AllHosts() []content.Host {
	if r.manifest == nil {
		return nil
	}
	return r.manifest.Hosts
}

// ValidateSocialPackages rebuilds and validates every (episode,
// platform) social package. The aggregate is valid when the failure
// rate over all attempts is at or below failureThreshold; failures
// include both generation errors and invalid packages.
func (r *Registry) ValidateSocialPackages(failureThreshold float64) content.ValidationResult {
	res := content.ValidationResult{
		IsValid:  true,
		Metadata: map[string]interface{}{},
	}

	if r.manifest == nil || r.social == nil {
		res.Metadata["failure_rate"] = 0.0
		res.Metadata["packages_checked"] = 0
		return res
	}

	checked := 0
	failed := 0

	for _, ep := range r.manifest.Episodes {
		for _, platform := range content.SocialPlatforms {
			checked++

			pkg, err := r.social.SocialPackage(r.manifest, ep, platform)
			if err != nil {
				failed++
				res.Errors = append(res.Errors,
					fmt.Sprintf("%s/%s: generation failed: %v", platform, ep.ID, err))
				continue
			}

			vr := r.social.ValidateSocialPackage(pkg, platform)
			if !vr.IsValid {
				failed++
				for _, e := range vr.Errors {
					res.Errors = append(res.Errors, fmt.Sprintf("%s/%s: %s", platform, ep.ID, e))
				}
			}
			for _, w := range vr.Warnings {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s/%s: %s", platform, ep.ID, w))
			}
		}
	}

	rate := 0.0
	if checked > 0 {
		rate = float64(failed) / float64(checked)
	}

	res.IsValid = rate <= failureThreshold
	res.Metadata["failure_rate"] = rate
	res.Metadata["packages_checked"] = checked
	res.Metadata["packages_failed"] = failed

	return res
}
