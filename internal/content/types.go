package content

import "time"

// SocialPlatforms is the fixed set of platforms social packages are
// generated for.
var SocialPlatforms = []string{"youtube", "spotify", "instagram", "tiktok"}

// Episode is one publishable podcast episode from the manifest.
type Episode struct {
	ID          string    `yaml:"id" json:"id"`
	Title       string    `yaml:"title" json:"title"`
	Description string    `yaml:"description" json:"description"`
	SeriesID    string    `yaml:"series_id" json:"series_id"`
	HostIDs     []string  `yaml:"host_ids" json:"host_ids"`
	AudioURL    string    `yaml:"audio_url" json:"audio_url"`
	VideoURL    string    `yaml:"video_url,omitempty" json:"video_url,omitempty"`
	Duration    int       `yaml:"duration_seconds" json:"duration_seconds"`
	PublishedAt time.Time `yaml:"published_at" json:"published_at"`
}

// Series groups episodes under one show.
type Series struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
}

// Host is a show host with a public profile page.
type Host struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Bio  string `yaml:"bio" json:"bio"`
}

// Manifest is the declarative description of all publishable content
// for one publish attempt.
type Manifest struct {
	BuildID     string    `yaml:"build_id" json:"build_id"`
	SiteURL     string    `yaml:"site_url" json:"site_url"`
	Title       string    `yaml:"title" json:"title"`
	Description string    `yaml:"description" json:"description"`
	Episodes    []Episode `yaml:"episodes" json:"episodes"`
	Series      []Series  `yaml:"series" json:"series"`
	Hosts       []Host    `yaml:"hosts" json:"hosts"`
}

// ContentCounts tallies what one staging deployment produced.
// SocialPackages counts every generation attempt, success or failure,
// so a failure rate computed from it reflects attempts.
type ContentCounts struct {
	Episodes        int `json:"episodes"`
	Series          int `json:"series"`
	Hosts           int `json:"hosts"`
	PagesGenerated  int `json:"pages_generated"`
	FeedsGenerated  int `json:"feeds_generated"`
	SocialPackages  int `json:"social_packages"`
	SocialValidated int `json:"social_validated"`
}

// Page is the output of a page generator: an HTML body plus its JSON-LD
// sidecar document.
type Page struct {
	Title  string
	HTML   string
	JSONLD map[string]interface{}
}

// ValidationResult is the verdict a validator returns for one item or
// one aggregate check.
type ValidationResult struct {
	IsValid  bool
	Errors   []string
	Warnings []string
	Metadata map[string]interface{}
}
