package deploy

import (
	"time"

	"podship/internal/content"
)

// Status is the per-attempt state of one deployment operation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusValidating Status = "validating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Environment identifies which directory tree an operation targeted.
type Environment string

const (
	EnvStaging    Environment = "staging"
	EnvProduction Environment = "production"
)

// GateType identifies one validation gate.
type GateType string

const (
	GateHTMLStructure    GateType = "html_structure"
	GateSchemaCompliance GateType = "schema_compliance"
	GateLinkIntegrity    GateType = "link_integrity"
	GateFeedValidation   GateType = "feed_validation"
	GateSocialPackage    GateType = "social_package"
)

// GateResult is one gate's verdict. Threshold and ActualScore share the
// gate's own unit: absolute failure counts for the HTML and link gates,
// success/failure rates in [0, 1] for the schema, feed and social gates.
type GateResult struct {
	Type        GateType               `json:"type"`
	Passed      bool                   `json:"passed"`
	Threshold   float64                `json:"threshold"`
	ActualScore float64                `json:"actual_score"`
	Errors      []string               `json:"errors,omitempty"`
	Warnings    []string               `json:"warnings,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Report aggregates every gate's result into an overall verdict.
type Report struct {
	Gates         []GateResult `json:"gates"`
	OverallPassed bool         `json:"overall_passed"`
	TotalErrors   int          `json:"total_errors"`
	TotalWarnings int          `json:"total_warnings"`
	GeneratedAt   time.Time    `json:"generated_at"`
}

// Gate returns the result for one gate type, if present.
func (r *Report) Gate(t GateType) (GateResult, bool) {
	for _, g := range r.Gates {
		if g.Type == t {
			return g, true
		}
	}
	return GateResult{}, false
}

// Result is the outcome of one staging or production operation. Expected
// failure modes are communicated through Status and ErrorMessage, never
// solely via errors.
type Result struct {
	ID                string                 `json:"id"`
	Status            Status                 `json:"status"`
	Environment       Environment            `json:"environment"`
	Counts            content.ContentCounts  `json:"content_counts"`
	Report            *Report                `json:"validation_report,omitempty"`
	StartedAt         time.Time              `json:"started_at"`
	CompletedAt       time.Time              `json:"completed_at"`
	ErrorMessage      string                 `json:"error_message,omitempty"`
	RollbackAvailable bool                   `json:"rollback_available"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`

	// Promotion carries the production result when a pipeline run
	// auto-promoted; nil otherwise.
	Promotion *Result `json:"promotion,omitempty"`
}

// Completed reports whether the operation finished successfully.
func (r *Result) Completed() bool {
	return r.Status == StatusCompleted
}
