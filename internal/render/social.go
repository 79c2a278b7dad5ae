package render

import (
	"fmt"
	"strings"

	"podship/internal/content"
)

// captionLimits are the per-platform caption length limits enforced at
// validation time.
var captionLimits = map[string]int{
	"youtube":   5000,
	"spotify":   2000,
	"instagram": 2200,
	"tiktok":    2200,
}

// videoPlatforms require a video URL on the episode.
var videoPlatforms = map[string]bool{
	"youtube": true,
	"tiktok":  true,
}

// Social is the built-in content.SocialGenerator. Packages are plain
// maps so staging can serialize them as upload.json without another
// schema.
type Social struct{}

// NewSocial creates a social package generator.
func NewSocial() *Social {
	return &Social{}
}

// SocialPackage builds the upload package for one episode on one
// platform.
func (s *Social) SocialPackage(m *content.Manifest, ep content.Episode, platform string) (map[string]interface{}, error) {
	if _, known := captionLimits[platform]; !known {
		return nil, fmt.Errorf("unknown platform %q", platform)
	}

	caption := ep.Description
	if caption == "" {
		caption = ep.Title
	}

	pkg := map[string]interface{}{
		"platform":  platform,
		"episode":   ep.ID,
		"title":     ep.Title,
		"caption":   caption,
		"link":      fmt.Sprintf("%s/episodes/%s.html", m.SiteURL, ep.ID),
		"audio_url": ep.AudioURL,
	}
	if ep.VideoURL != "" {
		pkg["video_url"] = ep.VideoURL
	}

	return pkg, nil
}

// ValidateSocialPackage checks a package against its platform's rules.
// Problems are reported in the result, never as an error.
func (s *Social) ValidateSocialPackage(pkg map[string]interface{}, platform string) content.ValidationResult {
	res := content.ValidationResult{IsValid: true}

	limit, known := captionLimits[platform]
	if !known {
		res.IsValid = false
		res.Errors = append(res.Errors, fmt.Sprintf("unknown platform %q", platform))
		return res
	}

	for _, field := range []string{"title", "caption", "link"} {
		v, ok := pkg[field].(string)
		if !ok || strings.TrimSpace(v) == "" {
			res.IsValid = false
			res.Errors = append(res.Errors, fmt.Sprintf("missing %s", field))
		}
	}

	if caption, ok := pkg["caption"].(string); ok && len(caption) > limit {
		res.IsValid = false
		res.Errors = append(res.Errors, fmt.Sprintf("caption is %d characters, limit for %s is %d", len(caption), platform, limit))
	}

	if videoPlatforms[platform] {
		if v, ok := pkg["video_url"].(string); !ok || v == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("no video for %s, upload will be audio only", platform))
		}
	}

	return res
}
