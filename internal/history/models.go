package history

import (
	"time"

	"podship/internal/content"
)

// Entry is one persisted deployment operation. Entries are immutable
// once written; a rollback appends a new entry pointing at its target
// via RollbackFrom instead of editing the target.
type Entry struct {
	ID              string                `json:"id"`
	Environment     string                `json:"environment"` // staging, production
	Status          string                `json:"status"`      // completed, failed, rolled_back
	DeployedAt      time.Time             `json:"deployed_at"`
	ManifestBuildID string                `json:"manifest_build_id"`
	Counts          content.ContentCounts `json:"content_counts"`

	// BackupID names the production snapshot taken immediately before
	// this operation mutated production. It is how a later rollback
	// finds the state to restore.
	BackupID string `json:"backup_id,omitempty"`

	// RollbackFrom is set on rollback entries: the id of the deployment
	// the rollback targeted.
	RollbackFrom string `json:"rollback_from,omitempty"`
}
