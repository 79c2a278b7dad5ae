package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"podship/internal/config"
	"podship/internal/content"
	"podship/internal/history"
	"podship/pkg/cmdutil"
	"podship/pkg/fileutil"
)

// CountsFileName is the content-counts snapshot written at the root of
// a finished staging deployment.
const CountsFileName = "counts.json"

// RollbackStalenessWarning is the age past which a rollback target
// draws a non-fatal warning.
const RollbackStalenessWarning = 30 * 24 * time.Hour

// Production promotes validated staging deployments into the single
// production directory and rolls production back from backups. Callers
// must serialize promote/rollback invocations (see LockManager); the
// production tree and history file have no internal synchronization.
type Production struct {
	cfg     config.Config
	gates   *GateSystem
	history *history.Store
	logger  *slog.Logger
}

// NewProduction creates a production deployer.
func NewProduction(cfg config.Config, gates *GateSystem, hist *history.Store, logger *slog.Logger) *Production {
	return &Production{
		cfg:     cfg,
		gates:   gates,
		history: hist,
		logger:  logger,
	}
}

// PromoteToProduction validates a staging deployment and, if every gate
// passes, atomically replaces production's contents with staging's.
// A backup of current production is always taken first; on an
// unexpected failure mid-replacement an automatic rollback to that
// backup is attempted and the outcome is named in the error message.
// An empty stagingPath locates the deployment under the staging root.
func (p *Production) PromoteToProduction(ctx context.Context, stagingDeploymentID, stagingPath string) *Result {
	result := &Result{
		ID:          stagingDeploymentID,
		Status:      StatusInProgress,
		Environment: EnvProduction,
		StartedAt:   time.Now().UTC(),
		Metadata:    map[string]interface{}{},
	}

	if stagingPath == "" {
		stagingPath = filepath.Join(p.cfg.StagingRoot, stagingDeploymentID)
	}

	// Fail fast before touching anything.
	if !fileutil.DirExists(stagingPath) {
		return p.fail(result, fmt.Sprintf("staging deployment not found: %s", stagingPath), os.ErrNotExist)
	}

	m, err := LoadStagedManifest(stagingPath)
	if err != nil {
		return p.fail(result, fmt.Sprintf("failed to load staged manifest: %v", err), err)
	}
	result.Counts = p.loadStagedCounts(stagingPath)

	p.logger.Info("Promoting to production",
		"deployment", stagingDeploymentID,
		"build_id", m.BuildID)

	// Back up current production before any validation or mutation; a
	// failed attempt keeps it for traceability.
	backupID, err := p.backupProduction("")
	if err != nil {
		return p.fail(result, fmt.Sprintf("failed to back up production: %v", err), err)
	}
	result.Metadata["backup_id"] = backupID

	result.Status = StatusValidating
	report := p.gates.Run(stagingPath, m)
	result.Report = report

	if !report.OverallPassed {
		result.Status = StatusFailed
		result.ErrorMessage = fmt.Sprintf("validation failed: %d errors across gates; production untouched", report.TotalErrors)
		result.CompletedAt = time.Now().UTC()

		p.appendHistory(history.Entry{
			ID:              stagingDeploymentID,
			Environment:     string(EnvProduction),
			Status:          string(StatusFailed),
			DeployedAt:      result.CompletedAt,
			ManifestBuildID: m.BuildID,
			Counts:          result.Counts,
			BackupID:        backupID,
		})

		p.logger.Warn("Promotion blocked by validation gates",
			"deployment", stagingDeploymentID,
			"errors", report.TotalErrors)
		return result
	}

	if err := p.replaceProduction(stagingPath); err != nil {
		// Production may be half-replaced; restore the pre-promotion
		// backup and say plainly whether that worked.
		restoreErr := fileutil.ReplaceTree(filepath.Join(p.cfg.BackupRoot, backupID), p.cfg.ProductionRoot)
		if restoreErr != nil {
			result.ErrorMessage = fmt.Sprintf(
				"promotion failed: %v; automatic rollback to backup %s FAILED: %v; production needs manual restoration",
				err, backupID, restoreErr)
		} else {
			result.ErrorMessage = fmt.Sprintf(
				"promotion failed: %v; automatic rollback to backup %s succeeded",
				err, backupID)
		}
		result.Status = StatusFailed
		result.CompletedAt = time.Now().UTC()

		p.appendHistory(history.Entry{
			ID:              stagingDeploymentID,
			Environment:     string(EnvProduction),
			Status:          string(StatusFailed),
			DeployedAt:      result.CompletedAt,
			ManifestBuildID: m.BuildID,
			Counts:          result.Counts,
			BackupID:        backupID,
		})

		p.logger.Error("Promotion failed during replacement", "deployment", stagingDeploymentID, "error", result.ErrorMessage)
		return result
	}

	result.Status = StatusCompleted
	result.CompletedAt = time.Now().UTC()
	result.RollbackAvailable = true

	entry := history.Entry{
		ID:              stagingDeploymentID,
		Environment:     string(EnvProduction),
		Status:          string(StatusCompleted),
		DeployedAt:      result.CompletedAt,
		ManifestBuildID: m.BuildID,
		Counts:          result.Counts,
		BackupID:        backupID,
	}
	p.appendHistory(entry)

	p.runPostPromoteHooks(ctx, result)

	p.logger.Info("Promotion complete", "deployment", stagingDeploymentID, "backup", backupID)
	return result
}

// replaceProduction swaps production's entire contents for staging's.
// A panicking copy (full disk handlers and the like) is converted into
// an error so the promotion path can attempt its automatic rollback.
func (p *Production) replaceProduction(stagingPath string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected panic during replacement: %v", r)
		}
	}()
	return fileutil.ReplaceTree(stagingPath, p.cfg.ProductionRoot)
}

// RollbackDeployment restores production from the backup tied to a
// history entry. An empty targetID picks the most recent successful
// production deployment. A safety backup of current (possibly broken)
// production is taken first, and a new history entry with RollbackFrom
// set is appended; the target entry is never modified.
func (p *Production) RollbackDeployment(ctx context.Context, targetID string) *Result {
	result := &Result{
		ID:          fmt.Sprintf("rollback-%s-%s", time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:8]),
		Status:      StatusInProgress,
		Environment: EnvProduction,
		StartedAt:   time.Now().UTC(),
		Metadata:    map[string]interface{}{},
	}

	var target history.Entry
	if targetID == "" {
		candidates := p.history.RollbackCandidates()
		if len(candidates) == 0 {
			return p.fail(result, "no successful production deployments to roll back to", nil)
		}
		target = candidates[0]
	} else {
		entry, ok := p.history.Find(targetID)
		if !ok {
			return p.fail(result, fmt.Sprintf("deployment %s not found in history", targetID), nil)
		}
		// A rolled_back entry's backup is the safety snapshot of the
		// broken production it replaced; restoring it would bring that
		// state back. Only completed deployments are restorable.
		if entry.Status != string(StatusCompleted) {
			return p.fail(result, fmt.Sprintf("deployment %s has status %q, not completed", targetID, entry.Status), nil)
		}
		target = entry
	}
	result.Metadata["rollback_from"] = target.ID

	backupPath := filepath.Join(p.cfg.BackupRoot, target.BackupID)
	if target.BackupID == "" || !fileutil.DirExists(backupPath) {
		return p.fail(result, fmt.Sprintf("no backup exists for deployment %s", target.ID), nil)
	}

	// Preserve whatever production looks like right now before we
	// overwrite it.
	safetyID, err := p.backupProduction(target.BackupID)
	if err != nil {
		return p.fail(result, fmt.Sprintf("failed to back up current production: %v", err), err)
	}
	result.Metadata["safety_backup_id"] = safetyID

	if err := fileutil.ReplaceTree(backupPath, p.cfg.ProductionRoot); err != nil {
		return p.fail(result, fmt.Sprintf("failed to restore backup %s: %v", target.BackupID, err), err)
	}

	result.Status = StatusRolledBack
	result.Counts = target.Counts
	result.CompletedAt = time.Now().UTC()

	p.appendHistory(history.Entry{
		ID:              result.ID,
		Environment:     string(EnvProduction),
		Status:          string(StatusRolledBack),
		DeployedAt:      result.CompletedAt,
		ManifestBuildID: target.ManifestBuildID,
		Counts:          target.Counts,
		BackupID:        safetyID,
		RollbackFrom:    target.ID,
	})

	p.logger.Info("Rollback complete", "target", target.ID, "restored_backup", target.BackupID)
	return result
}

// GetDeploymentHistory returns persisted history entries newest first.
// A limit <= 0 returns everything.
func (p *Production) GetDeploymentHistory(limit int) []history.Entry {
	return p.history.Entries(limit)
}

// GetRollbackCandidates returns successful, non-rollback production
// entries, newest first.
func (p *Production) GetRollbackCandidates() []history.Entry {
	return p.history.RollbackCandidates()
}

// ValidateRollbackTarget checks that a deployment id is a usable
// rollback target: present in history, completed, with its backup still
// on disk. Age past 30 days is a warning, not a failure.
func (p *Production) ValidateRollbackTarget(targetID string) content.ValidationResult {
	res := content.ValidationResult{
		IsValid:  true,
		Metadata: map[string]interface{}{"target_id": targetID},
	}

	entry, ok := p.history.Find(targetID)
	if !ok {
		res.IsValid = false
		res.Errors = append(res.Errors, fmt.Sprintf("deployment %s not found in history", targetID))
		return res
	}

	if entry.Status != string(StatusCompleted) {
		res.IsValid = false
		res.Errors = append(res.Errors, fmt.Sprintf("deployment %s has status %q, not completed", targetID, entry.Status))
	}

	if entry.BackupID == "" || !fileutil.DirExists(filepath.Join(p.cfg.BackupRoot, entry.BackupID)) {
		res.IsValid = false
		res.Errors = append(res.Errors, fmt.Sprintf("no backup on disk for deployment %s", targetID))
	}

	if age := time.Since(entry.DeployedAt); age > RollbackStalenessWarning {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("deployment %s is %d days old; content may be badly stale", targetID, int(age.Hours()/24)))
	}

	return res
}

func (p *Production) fail(result *Result, message string, cause error) *Result {
	result.Status = StatusFailed
	result.ErrorMessage = message
	result.CompletedAt = time.Now().UTC()
	if cause != nil {
		result.Metadata["error_type"] = fmt.Sprintf("%T", cause)
	}
	p.logger.Error("Production operation failed", "id", result.ID, "error", message)
	return result
}

// backupProduction snapshots the current production tree under a fresh
// backup id and prunes backups beyond the retention count. A production
// directory that does not exist yet snapshots as an empty backup. A
// non-empty protect names a backup the prune must not delete, used
// during rollback to keep the restore source alive when backups sit at
// the retention cap.
func (p *Production) backupProduction(protect string) (string, error) {
	backupID := fmt.Sprintf("backup-%s-%s", time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
	dest := filepath.Join(p.cfg.BackupRoot, backupID)

	if fileutil.DirExists(p.cfg.ProductionRoot) {
		if err := fileutil.CopyTree(p.cfg.ProductionRoot, dest); err != nil {
			return "", err
		}
	} else {
		if err := os.MkdirAll(dest, 0755); err != nil {
			return "", fmt.Errorf("failed to create empty backup: %w", err)
		}
	}

	p.pruneBackups(protect)
	return backupID, nil
}

// pruneBackups deletes the oldest on-disk backups beyond the retention
// count, skipping the protected backup. Pruning failures are logged,
// never fatal.
func (p *Production) pruneBackups(protect string) {
	entries, err := os.ReadDir(p.cfg.BackupRoot)
	if err != nil {
		return
	}

	type backup struct {
		name    string
		modTime time.Time
	}
	var backups []backup
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "backup-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{name: entry.Name(), modTime: info.ModTime()})
	}

	if len(backups) <= p.cfg.MaxRollbackHistory {
		return
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].modTime.Before(backups[j].modTime)
	})

	for _, b := range backups[:len(backups)-p.cfg.MaxRollbackHistory] {
		if b.name == protect {
			continue
		}
		path := filepath.Join(p.cfg.BackupRoot, b.name)
		if !fileutil.WithinRoot(p.cfg.BackupRoot, path) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			p.logger.Warn("Failed to prune old backup", "backup", b.name, "error", err)
		}
	}
}

func (p *Production) appendHistory(entry history.Entry) {
	if err := p.history.Append(entry); err != nil {
		p.logger.Error("Failed to persist history entry", "id", entry.ID, "error", err)
	}
}

// LoadStagedManifest reads the manifest snapshot a staging deployment
// wrote at its root.
func LoadStagedManifest(stagingPath string) (*content.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(stagingPath, ManifestFileName))
	if err != nil {
		return nil, fmt.Errorf("staging deployment has no manifest snapshot: %w", err)
	}

	var m content.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt manifest snapshot: %w", err)
	}
	return &m, nil
}

// loadStagedCounts reads the counts snapshot a completed staging run
// wrote. Absence degrades to zero counts rather than failing promotion.
func (p *Production) loadStagedCounts(stagingPath string) content.ContentCounts {
	var counts content.ContentCounts
	data, err := os.ReadFile(filepath.Join(stagingPath, CountsFileName))
	if err != nil {
		p.logger.Warn("Staging deployment has no counts snapshot", "staging", stagingPath)
		return counts
	}
	if err := json.Unmarshal(data, &counts); err != nil {
		p.logger.Warn("Corrupt counts snapshot", "staging", stagingPath, "error", err)
	}
	return counts
}

// runPostPromoteHooks runs configured post-promote commands in the
// production directory. Hook failure never fails an already-completed
// promotion; it is logged and recorded in result metadata.
func (p *Production) runPostPromoteHooks(ctx context.Context, result *Result) {
	if len(p.cfg.PostPromote) == 0 {
		return
	}

	timeout := time.Duration(p.cfg.PostPromoteTimeout) * time.Second
	var hookErrors []string

	for i, raw := range p.cfg.PostPromote {
		cmd, err := cmdutil.ParseCommandList(raw)
		if err != nil {
			hookErrors = append(hookErrors, fmt.Sprintf("post_promote[%d]: %v", i, err))
			continue
		}

		p.logger.Info("Running post-promote hook", "command", cmdutil.FormatCommand(cmd))
		hookResult, err := cmdutil.RunHook(ctx, p.cfg.ProductionRoot, timeout, cmd)
		if err != nil {
			hookErrors = append(hookErrors, fmt.Sprintf("post_promote[%d] (%s): %v", i, cmdutil.FormatCommand(cmd), err))
			output := ""
			if hookResult != nil {
				output = string(hookResult.Output)
			}
			p.logger.Warn("Post-promote hook failed",
				"command", cmdutil.FormatCommand(cmd),
				"error", err,
				"output", output)
		}
	}

	if len(hookErrors) > 0 {
		result.Metadata["hook_errors"] = hookErrors
	}
}
